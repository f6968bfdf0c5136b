package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chemlit-registry/models"
)

// MemoryStore ist eine prozesslokale Store-Implementierung mit denselben
// Semantiken wie GormStore (DOI-Eindeutigkeit, atomare Claims). Sie trägt
// die Tests; in Produktion läuft der GormStore.
type MemoryStore struct {
	mu sync.Mutex

	articles    map[string]*models.Article // key: normalisierte DOI
	assets      map[uint]*models.FileAsset
	nextArticle uint
	nextAuthor  uint
	nextAsset   uint
	authorCount int64
}

// NewMemoryStore erstellt einen leeren MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles: make(map[string]*models.Article),
		assets:   make(map[uint]*models.FileAsset),
	}
}

func (s *MemoryStore) ArticleByDOI(ctx context.Context, doi string) (*models.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[doi]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneArticle(article)
	for _, asset := range s.assets {
		if asset.ArticleID == article.ID {
			out.Files = append(out.Files, *asset)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateArticleWithAuthors(ctx context.Context, article *models.Article, authors []models.Author) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.articles[article.DOI]; exists {
		return ErrDuplicateDOI
	}
	s.nextArticle++
	article.ID = s.nextArticle
	now := time.Now()
	article.CreatedAt = now
	article.UpdatedAt = now
	for i := range authors {
		s.nextAuthor++
		authors[i].ID = s.nextAuthor
		authors[i].ArticleID = article.ID
		authors[i].Position = i
		authors[i].CreatedAt = now
		authors[i].UpdatedAt = now
	}
	article.Authors = authors
	s.authorCount += int64(len(authors))
	s.articles[article.DOI] = cloneArticle(article)
	return nil
}

// sortedArticles liefert Kopien aller Artikel in derselben Reihenfolge wie
// der GormStore (created_at absteigend, bei Gleichstand jüngere ID zuerst).
// Muss unter gehaltenem Lock aufgerufen werden.
func (s *MemoryStore) sortedArticles() []models.Article {
	var out []models.Article
	for _, article := range s.articles {
		out = append(out, *cloneArticle(article))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *MemoryStore) ListArticles(ctx context.Context, limit, offset int) ([]models.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sortedArticles()
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SearchArticles(ctx context.Context, filter ArticleFilter) ([]models.Article, int64, error) {
	contains := func(haystack, needle string) bool {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []models.Article
	for _, article := range s.sortedArticles() {
		if filter.DOI != "" && !contains(article.DOI, filter.DOI) {
			continue
		}
		if filter.Title != "" && !contains(article.Title, filter.Title) {
			continue
		}
		if filter.Journal != "" && !contains(article.Journal, filter.Journal) {
			continue
		}
		if filter.Year != nil && (article.Year == nil || *article.Year != *filter.Year) {
			continue
		}
		if filter.Author != "" {
			found := false
			for _, author := range article.Authors {
				if contains(author.FirstName, filter.Author) || contains(author.LastName, filter.Author) {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		matches = append(matches, article)
	}

	total := int64(len(matches))
	offset := filter.Offset
	if offset > len(matches) {
		offset = len(matches)
	}
	matches = matches[offset:]
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, total, nil
}

func (s *MemoryStore) DeleteArticleByDOI(ctx context.Context, doi string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[doi]
	if !ok {
		return ErrNotFound
	}
	s.authorCount -= int64(len(article.Authors))
	for id, asset := range s.assets {
		if asset.ArticleID == article.ID {
			delete(s.assets, id)
		}
	}
	delete(s.articles, doi)
	return nil
}

func (s *MemoryStore) CreateFileAsset(ctx context.Context, asset *models.FileAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAsset++
	asset.ID = s.nextAsset
	now := time.Now()
	asset.CreatedAt = now
	asset.UpdatedAt = now
	if asset.Status == "" {
		asset.Status = models.StatusPending
	}
	stored := *asset
	s.assets[asset.ID] = &stored
	return nil
}

// EnsureAsset prüft und legt unter einem Lock an; zwei gleichzeitige
// Aufrufer für dieselbe URL bekommen garantiert dasselbe Asset.
func (s *MemoryStore) EnsureAsset(ctx context.Context, asset *models.FileAsset) (*models.FileAsset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.FileAsset
	for _, existing := range s.assets {
		if existing.ArticleID != asset.ArticleID || existing.SourceURL != asset.SourceURL {
			continue
		}
		if existing.Status == models.StatusFailed {
			continue
		}
		if latest == nil || existing.ID > latest.ID {
			latest = existing
		}
	}
	if latest != nil {
		out := *latest
		return &out, false, nil
	}

	s.nextAsset++
	asset.ID = s.nextAsset
	now := time.Now()
	asset.CreatedAt = now
	asset.UpdatedAt = now
	if asset.Status == "" {
		asset.Status = models.StatusPending
	}
	stored := *asset
	s.assets[asset.ID] = &stored
	out := stored
	return &out, true, nil
}

func (s *MemoryStore) AssetsByArticle(ctx context.Context, articleID uint) ([]models.FileAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FileAsset
	for id := uint(1); id <= s.nextAsset; id++ {
		asset, ok := s.assets[id]
		if ok && asset.ArticleID == articleID {
			out = append(out, *asset)
		}
	}
	return out, nil
}

func (s *MemoryStore) ClaimAsset(ctx context.Context, id uint, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok {
		return false, nil
	}
	if asset.Attempts >= maxAttempts {
		return false, nil
	}
	if asset.Status != models.StatusPending && asset.Status != models.StatusFailed {
		return false, nil
	}
	now := time.Now()
	asset.Status = models.StatusInProgress
	asset.Attempts++
	asset.ClaimedAt = &now
	asset.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) MarkAssetSucceeded(ctx context.Context, id uint, localRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok || asset.Status != models.StatusInProgress {
		return nil
	}
	asset.Status = models.StatusSucceeded
	asset.LocalRef = localRef
	asset.Error = ""
	asset.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkAssetFailed(ctx context.Context, id uint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok || asset.Status != models.StatusInProgress {
		return nil
	}
	asset.Status = models.StatusFailed
	asset.Error = reason
	asset.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FailStaleAssets(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, asset := range s.assets {
		if asset.Status == models.StatusInProgress && asset.ClaimedAt != nil && asset.ClaimedAt.Before(olderThan) {
			asset.Status = models.StatusFailed
			asset.Error = "stalled"
			asset.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Stats{
		Articles:   int64(len(s.articles)),
		Authors:    s.authorCount,
		FileAssets: int64(len(s.assets)),
	}, nil
}

func cloneArticle(in *models.Article) *models.Article {
	out := *in
	out.Authors = append([]models.Author(nil), in.Authors...)
	out.Files = nil
	return &out
}
