package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chemlit-registry/models"
)

func seedArticle(t *testing.T, store *MemoryStore, doi, title, journal string, year int, authors ...models.Author) *models.Article {
	t.Helper()
	article := &models.Article{DOI: doi, Title: title, Journal: journal, Year: &year}
	require.NoError(t, store.CreateArticleWithAuthors(context.Background(), article, authors))
	return article
}

// ListArticles muss im Speicher dieselbe Reihenfolge liefern wie die
// Datenbank: neueste zuerst.
func TestMemoryListArticles_NewestFirst(t *testing.T) {
	store := NewMemoryStore()
	for i := 1; i <= 3; i++ {
		seedArticle(t, store, fmt.Sprintf("10.1000/order.%d", i), fmt.Sprintf("Artikel %d", i), "J", 2020+i)
	}

	articles, err := store.ListArticles(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, articles, 3)
	assert.Equal(t, uint(3), articles[0].ID)
	assert.Equal(t, uint(2), articles[1].ID)
	assert.Equal(t, uint(1), articles[2].ID)
}

func TestMemorySearchArticles(t *testing.T) {
	store := NewMemoryStore()
	seedArticle(t, store, "10.1039/aaa", "Catalytic Hydrogenation", "Chem. Commun.", 2022,
		models.Author{FirstName: "Marie", LastName: "Curie"})
	seedArticle(t, store, "10.1021/bbb", "Hydrogenation Kinetics", "JACS", 2023,
		models.Author{FirstName: "Ada", LastName: "Lovelace"})
	seedArticle(t, store, "10.1002/ccc", "Polymer Synthesis", "Angew. Chem.", 2023)

	year := 2023

	tests := []struct {
		name      string
		filter    ArticleFilter
		wantDOIs  []string
		wantTotal int64
	}{
		{"Titel-Teilstring, Groß/Klein egal", ArticleFilter{Title: "hydrogenation"}, []string{"10.1021/bbb", "10.1039/aaa"}, 2},
		{"DOI-Teilstring", ArticleFilter{DOI: "10.1039"}, []string{"10.1039/aaa"}, 1},
		{"Journal", ArticleFilter{Journal: "jacs"}, []string{"10.1021/bbb"}, 1},
		{"Jahr exakt", ArticleFilter{Year: &year}, []string{"10.1002/ccc", "10.1021/bbb"}, 2},
		{"Autor-Nachname", ArticleFilter{Author: "curie"}, []string{"10.1039/aaa"}, 1},
		{"kombiniert", ArticleFilter{Title: "hydrogenation", Year: &year}, []string{"10.1021/bbb"}, 1},
		{"kein Treffer", ArticleFilter{Title: "spectroscopy"}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			articles, total, err := store.SearchArticles(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			var dois []string
			for _, a := range articles {
				dois = append(dois, a.DOI)
			}
			assert.Equal(t, tt.wantDOIs, dois)
		})
	}
}

// total_count zählt alle Treffer, auch wenn die Seite kleiner ist.
func TestMemorySearchArticles_Pagination(t *testing.T) {
	store := NewMemoryStore()
	for i := 1; i <= 5; i++ {
		seedArticle(t, store, fmt.Sprintf("10.1000/page.%d", i), "Paginated", "J", 2024)
	}

	articles, total, err := store.SearchArticles(context.Background(), ArticleFilter{Title: "paginated", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, articles, 2)
	assert.Equal(t, "10.1000/page.3", articles[0].DOI)
	assert.Equal(t, "10.1000/page.2", articles[1].DOI)
}

// EnsureAsset legt pro Quelle nur ein aktives Asset an, auch unter
// gleichzeitigen Aufrufen.
func TestMemoryEnsureAsset_NoDuplicates(t *testing.T) {
	store := NewMemoryStore()
	article := seedArticle(t, store, "10.1000/ensure", "T", "J", 2024)

	var wg sync.WaitGroup
	createdCount := make([]bool, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asset := &models.FileAsset{ArticleID: article.ID, Kind: models.KindPDF, SourceURL: "http://x/p.pdf"}
			_, created, err := store.EnsureAsset(context.Background(), asset)
			createdCount[i] = created
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var created int
	for i := range errs {
		require.NoError(t, errs[i])
		if createdCount[i] {
			created++
		}
	}
	assert.Equal(t, 1, created)

	assets, err := store.AssetsByArticle(context.Background(), article.ID)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}

// Nach einem endgültigen Fehlschlag darf ein neuer Versuch ein frisches
// Asset anlegen.
func TestMemoryEnsureAsset_RetryAfterFailure(t *testing.T) {
	store := NewMemoryStore()
	article := seedArticle(t, store, "10.1000/retry", "T", "J", 2024)

	asset := &models.FileAsset{ArticleID: article.ID, Kind: models.KindPDF, SourceURL: "http://x/p.pdf"}
	first, created, err := store.EnsureAsset(context.Background(), asset)
	require.NoError(t, err)
	require.True(t, created)

	claimed, err := store.ClaimAsset(context.Background(), first.ID, 1)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, store.MarkAssetFailed(context.Background(), first.ID, "download failed"))

	second, created, err := store.EnsureAsset(context.Background(), &models.FileAsset{
		ArticleID: article.ID, Kind: models.KindPDF, SourceURL: "http://x/p.pdf",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}
