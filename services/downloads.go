package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"chemlit-registry/config"
	"chemlit-registry/models"
	"chemlit-registry/storage"
)

var fileDownloadsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "file_downloads_total",
		Help: "Total number of finished file downloads by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(fileDownloadsCounter)
}

// FileRequest bündelt die gewünschten Downloads einer Registrierung.
type FileRequest struct {
	PDFURL            string   `json:"pdf_url"`
	HTMLURL           string   `json:"html_url"`
	SupplementaryURLs []string `json:"supplementary_urls"`
}

// Empty meldet, ob keinerlei URLs angefragt wurden.
func (r FileRequest) Empty() bool {
	return r.PDFURL == "" && r.HTMLURL == "" && len(r.SupplementaryURLs) == 0
}

// DownloadService plant und überwacht Datei-Downloads. Der Zustand lebt
// ausschließlich in den FileAsset-Zeilen: jeder Worker beansprucht sein
// Asset atomar per ClaimAsset, bevor er überträgt, und schreibt das Ergebnis
// zurück. Dadurch übersteht der Fortschritt einen Prozess-Neustart.
type DownloadService struct {
	Store   storage.Store
	Objects storage.ObjectStore
	Logger  *zap.Logger

	client      *http.Client
	maxAttempts int
	staleAge    time.Duration
	wg          sync.WaitGroup
}

// NewDownloadService erstellt einen DownloadService.
func NewDownloadService(cfg *config.Config, store storage.Store, objects storage.ObjectStore, logger *zap.Logger) *DownloadService {
	return &DownloadService{
		Store:       store,
		Objects:     objects,
		Logger:      logger,
		client:      &http.Client{Timeout: cfg.DownloadTimeout()},
		maxAttempts: cfg.DownloadMaxAttempts,
		staleAge:    cfg.StaleClaimAge(),
	}
}

// Schedule legt synchron ein pending-Asset pro URL an und startet die
// Transfers als Hintergrund-Goroutinen; der Aufrufer wartet nicht auf die
// Downloads. Existiert für eine URL bereits ein laufendes oder erfolgreiches
// Asset, wird dieses zurückgegeben statt einen zweiten Transfer zu starten.
func (d *DownloadService) Schedule(ctx context.Context, article *models.Article, req FileRequest) ([]models.FileAsset, error) {
	type request struct {
		kind models.FileKind
		url  string
	}
	var requests []request
	if req.PDFURL != "" {
		requests = append(requests, request{models.KindPDF, req.PDFURL})
	}
	if req.HTMLURL != "" {
		requests = append(requests, request{models.KindHTML, req.HTMLURL})
	}
	for _, u := range req.SupplementaryURLs {
		if u != "" {
			requests = append(requests, request{models.KindSupplementary, u})
		}
	}

	var assets []models.FileAsset
	for _, r := range requests {
		asset := &models.FileAsset{
			ArticleID: article.ID,
			Kind:      r.kind,
			SourceURL: r.url,
			Status:    models.StatusPending,
		}
		stored, created, err := d.Store.EnsureAsset(ctx, asset)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *stored)
		if !created {
			// Für diese URL läuft bereits ein Transfer oder er ist erledigt.
			continue
		}

		d.wg.Add(1)
		go func(asset models.FileAsset) {
			defer d.wg.Done()
			// Bewusst vom Request-Kontext entkoppelt: die Registrierung
			// antwortet, bevor die Downloads fertig sind.
			d.run(context.Background(), asset)
		}(*stored)
	}
	return assets, nil
}

// DiscoverFileURLs leitet Download-Kandidaten aus den gespeicherten
// Registry-Metadaten ab, wenn der Aufrufer keine URLs mitliefert. Bekannte
// Verlage haben feste URL-Muster; sonst werden generische Umschreibungen der
// Artikel-URL versucht, und als letzter Ausweg der doi.org-Resolver.
func DiscoverFileURLs(article *models.Article) FileRequest {
	var req FileRequest
	publisher := strings.ToLower(article.Publisher)
	articleURL := article.URL

	switch {
	case strings.Contains(publisher, "royal society of chemistry"):
		req.PDFURL = "https://pubs.rsc.org/en/content/articlepdf/" + path.Base(article.DOI)
		req.HTMLURL = articleURL
	case strings.Contains(publisher, "elsevier"):
		req.PDFURL = "https://api.elsevier.com/content/article/doi/" + article.DOI + "?httpAccept=application/pdf"
		req.HTMLURL = articleURL
	case strings.Contains(publisher, "american chemical society"),
		strings.Contains(publisher, "wiley"):
		if candidate := strings.Replace(articleURL, "/abs/", "/pdf/", 1); candidate != articleURL {
			req.PDFURL = candidate
		}
		if candidate := strings.Replace(articleURL, "/pdf/", "/abs/", 1); candidate != articleURL {
			req.HTMLURL = candidate
		}
	case strings.Contains(publisher, "springer"):
		if strings.HasSuffix(articleURL, ".html") {
			req.PDFURL = strings.TrimSuffix(articleURL, ".html") + ".pdf"
		}
		req.HTMLURL = articleURL
	}

	// Generische Umschreibungen, falls kein Verlagsmuster gegriffen hat
	if req.PDFURL == "" && articleURL != "" {
		rewrites := []struct{ from, to string }{
			{"/abs/", "/pdf/"},
			{"/abstract/", "/pdf/"},
			{"/full/", "/pdf/"},
			{"/html/", "/pdf/"},
			{".html", ".pdf"},
		}
		for _, rw := range rewrites {
			if candidate := strings.Replace(articleURL, rw.from, rw.to, 1); candidate != articleURL {
				req.PDFURL = candidate
				break
			}
		}
	}

	// doi.org löst im Zweifel zumindest zur Verlagsseite auf
	if req.PDFURL == "" {
		req.PDFURL = "https://doi.org/" + article.DOI
	}
	if req.HTMLURL == "" {
		req.HTMLURL = articleURL
	}
	if req.HTMLURL == req.PDFURL {
		req.HTMLURL = ""
	}
	return req
}

// Wait blockiert, bis alle gestarteten Transfers abgeschlossen sind.
// Wird beim Herunterfahren und in Tests verwendet.
func (d *DownloadService) Wait() {
	d.wg.Wait()
}

// StatusByDOI liefert den letzten bekannten Zustand aller Assets des Artikels.
func (d *DownloadService) StatusByDOI(ctx context.Context, rawDOI string) ([]models.FileAsset, error) {
	doi, err := NormalizeDOI(rawDOI)
	if err != nil {
		return nil, err
	}
	article, err := d.Store.ArticleByDOI(ctx, doi)
	if err != nil {
		return nil, err
	}
	return d.Store.AssetsByArticle(ctx, article.ID)
}

// SweepStale markiert Downloads, deren Claim älter als StaleClaimAge ist,
// als fehlgeschlagen. Läuft periodisch per Cron und räumt nach einem Crash
// hängengebliebene in_progress-Assets auf.
func (d *DownloadService) SweepStale(ctx context.Context) (int64, error) {
	return d.Store.FailStaleAssets(ctx, time.Now().Add(-d.staleAge))
}

// run führt die Versuche für ein Asset aus. ClaimAsset begrenzt die Zahl der
// Versuche; der zweite Schleifendurchlauf ist der einmalige automatische
// Retry nach einem transienten Fehler.
func (d *DownloadService) run(ctx context.Context, asset models.FileAsset) {
	log := d.Logger.With(
		zap.Uint("asset_id", asset.ID),
		zap.Uint("article_id", asset.ArticleID),
		zap.String("url", asset.SourceURL),
	)
	failedThisRun := false
	for {
		claimed, err := d.Store.ClaimAsset(ctx, asset.ID, d.maxAttempts)
		if err != nil {
			log.Error("Claim für Asset fehlgeschlagen", zap.Error(err))
			return
		}
		if !claimed {
			if failedThisRun {
				// Budget aufgebraucht: der letzte transiente Fehler ist endgültig.
				fileDownloadsCounter.WithLabelValues("failed").Inc()
				log.Warn("Download nach Ausschöpfen der Versuche fehlgeschlagen")
			}
			return
		}

		localRef, permanent, err := d.transfer(ctx, asset)
		if err == nil {
			if err := d.Store.MarkAssetSucceeded(ctx, asset.ID, localRef); err != nil {
				log.Error("Konnte Erfolg nicht speichern", zap.Error(err))
				return
			}
			fileDownloadsCounter.WithLabelValues("succeeded").Inc()
			log.Info("Download abgeschlossen", zap.String("local_ref", localRef))
			return
		}

		if mErr := d.Store.MarkAssetFailed(ctx, asset.ID, err.Error()); mErr != nil {
			log.Error("Konnte Fehlschlag nicht speichern", zap.Error(mErr))
			return
		}
		if permanent {
			fileDownloadsCounter.WithLabelValues("failed").Inc()
			log.Warn("Download endgültig fehlgeschlagen", zap.Error(err))
			return
		}
		failedThisRun = true
		log.Warn("Download fehlgeschlagen, versuche erneut", zap.Error(err))
	}
}

// transfer lädt die Ressource herunter und legt sie im ObjectStore ab.
// Der zweite Rückgabewert meldet, ob der Fehler permanent ist (kein Retry).
func (d *DownloadService) transfer(ctx context.Context, asset models.FileAsset) (string, bool, error) {
	parsed, err := url.Parse(asset.SourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", true, fmt.Errorf("malformed url: %q", asset.SourceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.SourceURL, nil)
	if err != nil {
		return "", true, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		// Timeout oder Verbindungsfehler: transient
		return "", false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return "", false, fmt.Errorf("bad status: %s", resp.Status)
	case resp.StatusCode >= 400:
		return "", true, fmt.Errorf("bad status: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}

	ref, err := d.Objects.Put(ctx, objectKey(asset), data)
	if err != nil {
		return "", false, err
	}
	return ref, false, nil
}

// objectKey baut den Ablageschlüssel: articles/<id>/<kind>/<dateiname>.
func objectKey(asset models.FileAsset) string {
	name := ""
	if parsed, err := url.Parse(asset.SourceURL); err == nil {
		name = path.Base(parsed.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = fmt.Sprintf("asset_%d", asset.ID)
	}
	if asset.Kind == models.KindPDF && !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	if asset.Kind == models.KindHTML && !strings.HasSuffix(strings.ToLower(name), ".html") {
		name += ".html"
	}
	return fmt.Sprintf("articles/%d/%s/%s", asset.ArticleID, asset.Kind, name)
}
