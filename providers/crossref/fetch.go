package crossref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chemlit-registry/config"
	"chemlit-registry/models"
)

// ErrorKind klassifiziert einen fehlgeschlagenen Registry-Abruf.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindNotFound          ErrorKind = "not_found"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindUpstreamError     ErrorKind = "upstream_error"
)

// FetchError beschreibt, warum ein Metadaten-Abruf fehlgeschlagen ist.
// not_found ist endgültig; timeout und upstream_error werden innerhalb des
// Fetchers begrenzt wiederholt, bevor der letzte Fehler zurückkommt.
type FetchError struct {
	Kind ErrorKind
	DOI  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crossref fetch %s: %s: %v", e.DOI, e.Kind, e.Err)
	}
	return fmt.Sprintf("crossref fetch %s: %s", e.DOI, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsNotFound meldet, ob der Fehler ein definitives "DOI unbekannt" ist.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindNotFound
}

// Fetcher ruft Artikel-Metadaten per DOI von der CrossRef Works-API ab.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger

	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewFetcher erstellt einen neuen CrossRef-Fetcher. Der Rate-Limiter hält
// die konfigurierte Anfragenzahl pro Minute gegenüber der Registry ein.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:  cfg,
		Logger:  logger,
		client:  &http.Client{Timeout: cfg.CrossRefTimeout()},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.CrossRefRatePerMinute)/60.0), 1),
		baseURL: cfg.CrossRefBaseURL,
	}
}

// FetchByDOI holt die Metadaten für eine normalisierte DOI. Transiente Fehler
// (Timeout, Verbindungsfehler, 5xx) werden mit verdoppelnder Wartezeit bis zu
// CrossRefMaxRetries-mal wiederholt; 404 kommt sofort als not_found zurück.
// Es wird nichts persistiert.
func (f *Fetcher) FetchByDOI(ctx context.Context, doi string) (*models.ArticleMetadata, error) {
	log := f.Logger.With(zap.String("doi", doi))
	reqURL := fmt.Sprintf("%s/works/%s", f.baseURL, url.PathEscape(doi))

	var lastErr error
	for attempt := 0; attempt <= f.Config.CrossRefMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.Config.CrossRefBackoff() * time.Duration(1<<uint(attempt-1))
			log.Warn("CrossRef-Abruf fehlgeschlagen, warte vor erneutem Versuch",
				zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, &FetchError{Kind: KindTimeout, DOI: doi, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{Kind: KindTimeout, DOI: doi, Err: err}
		}

		meta, retryable, err := f.doRequest(ctx, doi, reqURL)
		if err == nil {
			log.Debug("Metadaten von CrossRef geladen", zap.String("title", meta.Title))
			return meta, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// doRequest führt genau einen Abruf aus. Der zweite Rückgabewert sagt, ob
// der Fehler transient ist und ein Retry lohnt.
func (f *Fetcher) doRequest(ctx context.Context, doi, reqURL string) (*models.ArticleMetadata, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, &FetchError{Kind: KindUpstreamError, DOI: doi, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
			return nil, true, &FetchError{Kind: KindTimeout, DOI: doi, Err: err}
		}
		return nil, true, &FetchError{Kind: KindUpstreamError, DOI: doi, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &FetchError{Kind: KindNotFound, DOI: doi}
	case resp.StatusCode >= 500:
		return nil, true, &FetchError{Kind: KindUpstreamError, DOI: doi, Err: fmt.Errorf("status %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, false, &FetchError{Kind: KindUpstreamError, DOI: doi, Err: fmt.Errorf("status %s", resp.Status)}
	}

	var response Response
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, false, &FetchError{Kind: KindMalformedResponse, DOI: doi, Err: err}
	}
	if response.Message.DOI == "" {
		return nil, false, &FetchError{Kind: KindMalformedResponse, DOI: doi, Err: errors.New("message without DOI")}
	}
	return mapWorkToMetadata(doi, &response.Message), false, nil
}

// userAgent baut den User-Agent inklusive mailto-Kontakt, wie von CrossRef
// für den "polite pool" erwartet.
func (f *Fetcher) userAgent() string {
	if f.Config.CrossRefMailto != "" {
		return fmt.Sprintf("%s (mailto:%s)", f.Config.CrossRefUserAgent, f.Config.CrossRefMailto)
	}
	return f.Config.CrossRefUserAgent
}

// mapWorkToMetadata konvertiert einen Works-Datensatz in unser internes
// Metadaten-Modell. Fehlende Felder bleiben leer; das Jahr kommt bevorzugt
// aus published-print, sonst aus published-online.
func mapWorkToMetadata(doi string, work *Work) *models.ArticleMetadata {
	meta := &models.ArticleMetadata{
		DOI:       doi,
		Volume:    work.Volume,
		Issue:     work.Issue,
		Pages:     work.Page,
		Abstract:  work.Abstract,
		Publisher: work.Publisher,
		URL:       work.URL,
	}
	if len(work.Title) > 0 {
		meta.Title = work.Title[0]
	}
	if len(work.ContainerTitle) > 0 {
		meta.Journal = work.ContainerTitle[0]
	}
	if year := work.PublishedPrint.Year(); year != nil {
		meta.Year = year
	} else if year := work.PublishedOnline.Year(); year != nil {
		meta.Year = year
	}
	for _, author := range work.Author {
		meta.Authors = append(meta.Authors, models.AuthorMetadata{
			FirstName: author.Given,
			LastName:  author.Family,
			ORCID:     author.CleanORCID(),
		})
	}
	return meta
}
