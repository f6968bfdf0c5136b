package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"chemlit-registry/models"
	"chemlit-registry/storage"
)

var articlesRegisteredCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "articles_registered_total",
		Help: "Total number of registration requests by result status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(articlesRegisteredCounter)
}

// RegistrationStatus ist das Ergebnis einer Registrierung.
type RegistrationStatus string

const (
	StatusCreated       RegistrationStatus = "created"
	StatusAlreadyExists RegistrationStatus = "already_exists"
	StatusRejected      RegistrationStatus = "rejected"
)

// FieldError benennt ein abgelehntes Feld samt Begründung.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RegistrationResult beschreibt den Ausgang einer Registrierung. Bei
// created und already_exists ist Article gesetzt; bei rejected erklären
// die FieldErrors die Ablehnung und es wurde nichts geschrieben.
type RegistrationResult struct {
	Status      RegistrationStatus `json:"status"`
	Article     *models.Article    `json:"article,omitempty"`
	Message     string             `json:"message,omitempty"`
	FieldErrors []FieldError       `json:"field_errors,omitempty"`
	FileAssets  []models.FileAsset `json:"file_assets,omitempty"`
}

// ArticleOverride erlaubt es dem Aufrufer, einzelne Felder der Registry-
// Metadaten zu überschreiben. Nil-Felder behalten den Registry-Wert;
// gesetzte Felder gewinnen, auch wenn sie leer sind.
type ArticleOverride struct {
	Title     *string `json:"title,omitempty"`
	Journal   *string `json:"journal,omitempty"`
	Year      *int    `json:"year,omitempty"`
	Volume    *string `json:"volume,omitempty"`
	Issue     *string `json:"issue,omitempty"`
	Pages     *string `json:"pages,omitempty"`
	Abstract  *string `json:"abstract,omitempty"`
	Publisher *string `json:"publisher,omitempty"`
	URL       *string `json:"url,omitempty"`
}

// AuthorInput ist ein vom Aufrufer gelieferter Autoreneintrag.
type AuthorInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ORCID     string `json:"orcid,omitempty"`
	Email     string `json:"email,omitempty"`
}

// RegisterRequest ist der Auftrag für eine Artikel-Registrierung.
type RegisterRequest struct {
	DOI     string           `json:"doi" binding:"required"`
	Article *ArticleOverride `json:"article,omitempty"`
	Authors []AuthorInput    `json:"authors,omitempty"`

	// SkipFetch registriert ausschließlich mit den mitgelieferten Daten,
	// ohne die Registry zu befragen.
	SkipFetch bool `json:"skip_fetch,omitempty"`

	// DownloadFiles startet nach der Registrierung die Datei-Downloads.
	DownloadFiles bool        `json:"download_files,omitempty"`
	Files         FileRequest `json:"files,omitempty"`
}

// MetadataFetcher liefert Registry-Metadaten für eine normalisierte DOI.
type MetadataFetcher interface {
	FetchByDOI(ctx context.Context, doi string) (*models.ArticleMetadata, error)
}

// RegisterService koordiniert den Registrierungsablauf: DOI normalisieren,
// Metadaten holen, validieren, deduplizieren, speichern und optional die
// Datei-Downloads anstoßen.
type RegisterService struct {
	Store     storage.Store
	Fetcher   MetadataFetcher
	Downloads *DownloadService
	Logger    *zap.Logger
}

// NewRegisterService erstellt einen RegisterService.
func NewRegisterService(store storage.Store, fetcher MetadataFetcher, downloads *DownloadService, logger *zap.Logger) *RegisterService {
	return &RegisterService{
		Store:     store,
		Fetcher:   fetcher,
		Downloads: downloads,
		Logger:    logger,
	}
}

// Preview holt die Registry-Metadaten für eine DOI, ohne etwas zu speichern.
// Der Aufrufer sieht exakt die Daten, die eine Registrierung verwenden würde.
func (s *RegisterService) Preview(ctx context.Context, rawDOI string) (*models.ArticleMetadata, error) {
	doi, err := NormalizeDOI(rawDOI)
	if err != nil {
		return nil, err
	}
	return s.Fetcher.FetchByDOI(ctx, doi)
}

// Register führt eine Registrierung idempotent aus. Konkurrierende Aufrufe
// mit derselben DOI ergeben genau einen Artikel; alle Verlierer der Race
// erhalten den Gewinner-Datensatz als already_exists zurück.
func (s *RegisterService) Register(ctx context.Context, req RegisterRequest) (*RegistrationResult, error) {
	doi, err := NormalizeDOI(req.DOI)
	if err != nil {
		articlesRegisteredCounter.WithLabelValues(string(StatusRejected)).Inc()
		return &RegistrationResult{
			Status:      StatusRejected,
			Message:     "invalid doi",
			FieldErrors: []FieldError{{Field: "doi", Message: err.Error()}},
		}, nil
	}
	log := s.Logger.With(zap.String("doi", doi))

	// Schneller Pfad: Artikel existiert bereits. Auch dann werden angefragte
	// Downloads geplant, damit ein erneuter Aufruf fehlende Dateien nachzieht.
	if existing, err := s.Store.ArticleByDOI(ctx, doi); err == nil {
		return s.alreadyExists(ctx, existing, req, log)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	var meta *models.ArticleMetadata
	if !req.SkipFetch {
		meta, err = s.Fetcher.FetchByDOI(ctx, doi)
		if err != nil {
			// Ohne manuelle Daten ist der Fetch-Fehler endgültig; mit
			// vollständigen manuellen Daten wird trotzdem registriert.
			if req.Article == nil || len(req.Authors) == 0 {
				return nil, err
			}
			log.Warn("Registry nicht erreichbar, verwende manuelle Daten", zap.Error(err))
		}
	}

	article, authors := buildArticle(doi, meta, req)
	if fieldErrs := validateArticle(article, authors); len(fieldErrs) > 0 {
		articlesRegisteredCounter.WithLabelValues(string(StatusRejected)).Inc()
		return &RegistrationResult{
			Status:      StatusRejected,
			Message:     "validation failed",
			FieldErrors: fieldErrs,
		}, nil
	}

	if err := s.Store.CreateArticleWithAuthors(ctx, article, authors); err != nil {
		if errors.Is(err, storage.ErrDuplicateDOI) {
			// Race verloren: der Gewinner-Datensatz ist jetzt sichtbar.
			winner, rerr := s.Store.ArticleByDOI(ctx, doi)
			if rerr != nil {
				return nil, rerr
			}
			return s.alreadyExists(ctx, winner, req, log)
		}
		return nil, err
	}
	log.Info("Artikel registriert", zap.Uint("article_id", article.ID))
	articlesRegisteredCounter.WithLabelValues(string(StatusCreated)).Inc()

	result := &RegistrationResult{
		Status:  StatusCreated,
		Article: article,
		Message: "article registered",
	}
	result.FileAssets = s.scheduleDownloads(ctx, article, req, log)
	return result, nil
}

// alreadyExists baut das Ergebnis für einen bestehenden Artikel und plant
// gegebenenfalls die angefragten Downloads.
func (s *RegisterService) alreadyExists(ctx context.Context, article *models.Article, req RegisterRequest, log *zap.Logger) (*RegistrationResult, error) {
	articlesRegisteredCounter.WithLabelValues(string(StatusAlreadyExists)).Inc()
	result := &RegistrationResult{
		Status:  StatusAlreadyExists,
		Article: article,
		Message: "article already registered",
	}
	result.FileAssets = s.scheduleDownloads(ctx, article, req, log)
	return result, nil
}

func (s *RegisterService) scheduleDownloads(ctx context.Context, article *models.Article, req RegisterRequest, log *zap.Logger) []models.FileAsset {
	if !req.DownloadFiles || s.Downloads == nil {
		return nil
	}
	files := req.Files
	if files.Empty() {
		// Ohne explizite URLs werden Kandidaten aus den Metadaten abgeleitet
		files = DiscoverFileURLs(article)
	}
	if files.Empty() {
		return nil
	}
	assets, err := s.Downloads.Schedule(ctx, article, files)
	if err != nil {
		// Download-Probleme gefährden die Registrierung nicht.
		log.Error("Konnte Downloads nicht planen", zap.Error(err))
		return nil
	}
	return assets
}

// buildArticle verschmilzt Registry-Metadaten und Aufrufer-Overrides zu dem
// Datensatz, der gespeichert wird. Overrides gewinnen feldweise; vom
// Aufrufer gelieferte Autoren ersetzen die Registry-Autorenliste komplett.
func buildArticle(doi string, meta *models.ArticleMetadata, req RegisterRequest) (*models.Article, []models.Author) {
	article := &models.Article{DOI: doi}
	if meta != nil {
		article.Title = meta.Title
		article.Journal = meta.Journal
		article.Year = meta.Year
		article.Volume = meta.Volume
		article.Issue = meta.Issue
		article.Pages = meta.Pages
		article.Abstract = meta.Abstract
		article.Publisher = meta.Publisher
		article.URL = meta.URL
	}
	if o := req.Article; o != nil {
		if o.Title != nil {
			article.Title = *o.Title
		}
		if o.Journal != nil {
			article.Journal = *o.Journal
		}
		if o.Year != nil {
			article.Year = o.Year
		}
		if o.Volume != nil {
			article.Volume = *o.Volume
		}
		if o.Issue != nil {
			article.Issue = *o.Issue
		}
		if o.Pages != nil {
			article.Pages = *o.Pages
		}
		if o.Abstract != nil {
			article.Abstract = *o.Abstract
		}
		if o.Publisher != nil {
			article.Publisher = *o.Publisher
		}
		if o.URL != nil {
			article.URL = *o.URL
		}
	}

	var authors []models.Author
	if len(req.Authors) > 0 {
		for _, a := range req.Authors {
			authors = append(authors, models.Author{
				FirstName: a.FirstName,
				LastName:  a.LastName,
				ORCID:     a.ORCID,
				Email:     a.Email,
			})
		}
	} else if meta != nil {
		for _, a := range meta.Authors {
			authors = append(authors, models.Author{
				FirstName: a.FirstName,
				LastName:  a.LastName,
				ORCID:     a.ORCID,
			})
		}
	}
	return article, authors
}

var orcidPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dXx]$`)

// validateArticle prüft die Pflichtfelder vor dem Schreiben. Eine leere
// Fehlerliste bedeutet: registrierbar.
func validateArticle(article *models.Article, authors []models.Author) []FieldError {
	var errs []FieldError
	if strings.TrimSpace(article.Title) == "" {
		errs = append(errs, FieldError{Field: "title", Message: "title must not be empty"})
	}
	if len(authors) == 0 {
		errs = append(errs, FieldError{Field: "authors", Message: "at least one author is required"})
	}
	for _, a := range authors {
		if strings.TrimSpace(a.FirstName) == "" && strings.TrimSpace(a.LastName) == "" {
			errs = append(errs, FieldError{Field: "authors", Message: "author name must not be empty"})
			break
		}
	}
	for _, a := range authors {
		if a.ORCID != "" && !orcidPattern.MatchString(a.ORCID) {
			errs = append(errs, FieldError{Field: "authors.orcid", Message: "malformed orcid: " + a.ORCID})
			break
		}
	}
	if article.Year != nil {
		if y := *article.Year; y < 1500 || y > time.Now().Year()+1 {
			errs = append(errs, FieldError{Field: "year", Message: "year out of range"})
		}
	}
	return errs
}
