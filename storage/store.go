package storage

import (
	"context"
	"errors"
	"time"

	"chemlit-registry/models"
)

var (
	// ErrDuplicateDOI meldet eine verlorene Race um denselben DOI-Schlüssel.
	// Der Aufrufer behandelt das wie einen bereits existierenden Artikel.
	ErrDuplicateDOI = errors.New("article with this doi already exists")

	// ErrNotFound meldet einen fehlenden Datensatz.
	ErrNotFound = errors.New("record not found")
)

// Stats fasst die Tabellenzählungen für den Stats-Endpoint zusammen.
type Stats struct {
	Articles   int64 `json:"articles"`
	Authors    int64 `json:"authors"`
	FileAssets int64 `json:"file_assets"`
}

// ArticleFilter beschreibt eine Artikel-Suche. Leere Felder filtern nicht;
// Textfelder matchen als Teilstring ohne Beachtung der Groß-/Kleinschreibung.
type ArticleFilter struct {
	DOI     string `json:"doi"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Journal string `json:"journal"`
	Year    *int   `json:"year"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

// Store kapselt alle Lese- und Schreibzugriffe auf Artikel, Autoren und
// Datei-Assets. Die Produktions-Implementierung läuft gegen PostgreSQL
// (GormStore); Tests nutzen den MemoryStore mit identischer Semantik.
type Store interface {
	// ArticleByDOI liefert den Artikel samt Autoren und Assets oder ErrNotFound.
	ArticleByDOI(ctx context.Context, doi string) (*models.Article, error)

	// CreateArticleWithAuthors legt Artikel und Autorenliste in einer
	// Transaktion an. Verliert der Aufrufer die Race um den DOI-Schlüssel,
	// kommt ErrDuplicateDOI zurück und es wird nichts geschrieben.
	CreateArticleWithAuthors(ctx context.Context, article *models.Article, authors []models.Author) error

	ListArticles(ctx context.Context, limit, offset int) ([]models.Article, error)

	// SearchArticles filtert nach DOI-/Titel-/Autor-/Journal-Teilstrings und
	// Jahr und liefert zusätzlich die Gesamttrefferzahl vor der Paginierung.
	SearchArticles(ctx context.Context, filter ArticleFilter) ([]models.Article, int64, error)

	DeleteArticleByDOI(ctx context.Context, doi string) error

	CreateFileAsset(ctx context.Context, asset *models.FileAsset) error

	// EnsureAsset liefert atomar das jüngste nicht endgültig fehlgeschlagene
	// Asset für dieselbe Artikel-URL-Kombination oder legt das übergebene
	// Asset als pending an. Der zweite Rückgabewert meldet, ob neu angelegt
	// wurde; konkurrierende Aufrufer erzeugen nie zwei aktive Assets für
	// dieselbe URL.
	EnsureAsset(ctx context.Context, asset *models.FileAsset) (*models.FileAsset, bool, error)

	AssetsByArticle(ctx context.Context, articleID uint) ([]models.FileAsset, error)

	// ClaimAsset versucht atomar den Übergang pending|failed → in_progress,
	// solange weniger als maxAttempts Versuche verbraucht sind. Genau ein
	// Worker kann einen Claim gewinnen.
	ClaimAsset(ctx context.Context, id uint, maxAttempts int) (bool, error)

	// MarkAssetSucceeded und MarkAssetFailed wirken nur auf Assets in
	// in_progress; Endzustände werden nie wieder verlassen.
	MarkAssetSucceeded(ctx context.Context, id uint, localRef string) error
	MarkAssetFailed(ctx context.Context, id uint, reason string) error

	// FailStaleAssets markiert Downloads, deren Claim älter als olderThan
	// ist, als fehlgeschlagen. Stellt nach einem Crash Konsistenz her.
	FailStaleAssets(ctx context.Context, olderThan time.Time) (int64, error)

	Stats(ctx context.Context) (*Stats, error)
}
