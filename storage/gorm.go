package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chemlit-registry/models"
)

// GormStore ist die PostgreSQL-Implementierung des Store-Interface.
// Der Unique-Index auf articles.doi ist die harte Grenze gegen Duplikate;
// alles darüber ist nur Vorprüfung.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore erstellt einen Store über einer bestehenden Verbindung.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// ArticleByDOI lädt den Artikel samt Autoren (in Reihenfolge) und Assets.
func (s *GormStore) ArticleByDOI(ctx context.Context, doi string) (*models.Article, error) {
	var article models.Article
	err := s.db.WithContext(ctx).
		Preload("Authors", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Preload("Files").
		Where("doi = ?", doi).
		First(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// CreateArticleWithAuthors schreibt Artikel und Autoren in einer Transaktion.
// Der Insert nutzt ON CONFLICT DO NOTHING auf der DOI-Spalte: gewinnt ein
// paralleler Aufrufer die Race, landet hier RowsAffected == 0 und die
// Transaktion endet mit ErrDuplicateDOI, ohne halbe Datensätze zu hinterlassen.
func (s *GormStore) CreateArticleWithAuthors(ctx context.Context, article *models.Article, authors []models.Author) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit("Authors", "Files").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "doi"}},
			DoNothing: true,
		}).Create(article)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicateDOI
		}
		for i := range authors {
			authors[i].ArticleID = article.ID
			authors[i].Position = i
		}
		if len(authors) > 0 {
			if err := tx.Create(&authors).Error; err != nil {
				return err
			}
		}
		article.Authors = authors
		return nil
	})
}

func (s *GormStore) ListArticles(ctx context.Context, limit, offset int) ([]models.Article, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var articles []models.Article
	err := s.db.WithContext(ctx).
		Preload("Authors", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Order("created_at desc").
		Limit(limit).Offset(offset).
		Find(&articles).Error
	return articles, err
}

// SearchArticles filtert per ILIKE-Teilstrings und Jahr; der Autor-Filter
// läuft als EXISTS-Subquery, damit Artikel mit mehreren Treffern nicht
// doppelt erscheinen.
func (s *GormStore) SearchArticles(ctx context.Context, filter ArticleFilter) ([]models.Article, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Article{})
	if filter.DOI != "" {
		query = query.Where("doi ILIKE ?", "%"+filter.DOI+"%")
	}
	if filter.Title != "" {
		query = query.Where("title ILIKE ?", "%"+filter.Title+"%")
	}
	if filter.Journal != "" {
		query = query.Where("journal ILIKE ?", "%"+filter.Journal+"%")
	}
	if filter.Year != nil {
		query = query.Where("year = ?", *filter.Year)
	}
	if filter.Author != "" {
		pattern := "%" + filter.Author + "%"
		query = query.Where(
			"EXISTS (SELECT 1 FROM authors WHERE authors.article_id = articles.id AND (authors.first_name ILIKE ? OR authors.last_name ILIKE ?))",
			pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var articles []models.Article
	err := query.
		Preload("Authors", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Order("created_at desc").
		Limit(limit).Offset(filter.Offset).
		Find(&articles).Error
	return articles, total, err
}

// DeleteArticleByDOI löscht den Artikel; Autoren und Assets hängen per
// ON DELETE CASCADE am Artikel und verschwinden mit.
func (s *GormStore) DeleteArticleByDOI(ctx context.Context, doi string) error {
	res := s.db.WithContext(ctx).Where("doi = ?", doi).Delete(&models.Article{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateFileAsset(ctx context.Context, asset *models.FileAsset) error {
	return s.db.WithContext(ctx).Create(asset).Error
}

// EnsureAsset serialisiert konkurrierende Aufrufer über eine Zeilensperre
// auf dem Artikel: innerhalb der Transaktion kann kein zweiter Aufrufer
// zwischen Prüfung und Insert ein Duplikat anlegen.
func (s *GormStore) EnsureAsset(ctx context.Context, asset *models.FileAsset) (*models.FileAsset, bool, error) {
	var out models.FileAsset
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var article models.Article
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&article, asset.ArticleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		err := tx.
			Where("article_id = ? AND source_url = ? AND status <> ?", asset.ArticleID, asset.SourceURL, models.StatusFailed).
			Order("created_at desc").
			First(&out).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if asset.Status == "" {
			asset.Status = models.StatusPending
		}
		if err := tx.Create(asset).Error; err != nil {
			return err
		}
		out = *asset
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

func (s *GormStore) AssetsByArticle(ctx context.Context, articleID uint) ([]models.FileAsset, error) {
	var assets []models.FileAsset
	err := s.db.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("id asc").
		Find(&assets).Error
	return assets, err
}

// ClaimAsset ist das einzige Tor nach in_progress. Das guarded UPDATE stellt
// sicher, dass pro Asset höchstens ein Worker gleichzeitig überträgt und die
// Versuchszahl nie maxAttempts übersteigt.
func (s *GormStore) ClaimAsset(ctx context.Context, id uint, maxAttempts int) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.FileAsset{}).
		Where("id = ? AND attempts < ? AND status IN ?", id, maxAttempts,
			[]models.FileStatus{models.StatusPending, models.StatusFailed}).
		Updates(map[string]interface{}{
			"status":     models.StatusInProgress,
			"attempts":   gorm.Expr("attempts + 1"),
			"claimed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) MarkAssetSucceeded(ctx context.Context, id uint, localRef string) error {
	return s.db.WithContext(ctx).Model(&models.FileAsset{}).
		Where("id = ? AND status = ?", id, models.StatusInProgress).
		Updates(map[string]interface{}{
			"status":    models.StatusSucceeded,
			"local_ref": localRef,
			"error":     "",
		}).Error
}

func (s *GormStore) MarkAssetFailed(ctx context.Context, id uint, reason string) error {
	return s.db.WithContext(ctx).Model(&models.FileAsset{}).
		Where("id = ? AND status = ?", id, models.StatusInProgress).
		Updates(map[string]interface{}{
			"status": models.StatusFailed,
			"error":  reason,
		}).Error
}

func (s *GormStore) FailStaleAssets(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.FileAsset{}).
		Where("status = ? AND claimed_at < ?", models.StatusInProgress, olderThan).
		Updates(map[string]interface{}{
			"status": models.StatusFailed,
			"error":  "stalled",
		})
	return res.RowsAffected, res.Error
}

func (s *GormStore) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := s.db.WithContext(ctx).Model(&models.Article{}).Count(&stats.Articles).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Author{}).Count(&stats.Authors).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.FileAsset{}).Count(&stats.FileAssets).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}
