package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chemlit-registry/models"
	"chemlit-registry/services"
	"chemlit-registry/storage"
)

type stubFetcher struct {
	meta *models.ArticleMetadata
}

func (s *stubFetcher) FetchByDOI(ctx context.Context, doi string) (*models.ArticleMetadata, error) {
	meta := *s.meta
	meta.DOI = doi
	return &meta, nil
}

func testRouter(t *testing.T) (*gin.Engine, storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	logger := zap.NewNop()
	year := 2022
	fetcher := &stubFetcher{meta: &models.ArticleMetadata{
		Title:   "Curcumin Bioavailability Revisited",
		Journal: "Journal of Natural Products",
		Year:    &year,
		Authors: []models.AuthorMetadata{{FirstName: "Ada", LastName: "Lovelace"}},
	}}
	registerService := services.NewRegisterService(store, fetcher, nil, logger)

	router := gin.New()
	setupRegistrationRoutes(router, registerService, logger)
	setupArticleRoutes(router, store, logger)
	setupStatsRoutes(router, store, logger)
	return router, store
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegisterEndpoint_Created(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodPost, "/register", `{"doi":"https://doi.org/10.1000/Example.DOI"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var result services.RegistrationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, services.StatusCreated, result.Status)
	assert.Equal(t, "10.1000/example.doi", result.Article.DOI)
}

func TestRegisterEndpoint_SecondCallReturns200(t *testing.T) {
	router, _ := testRouter(t)

	first := doJSON(router, http.MethodPost, "/register", `{"doi":"10.1000/example.doi"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(router, http.MethodPost, "/register", `{"doi":"DOI:10.1000/EXAMPLE.DOI"}`)
	require.Equal(t, http.StatusOK, second.Code)

	var result services.RegistrationResult
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &result))
	assert.Equal(t, services.StatusAlreadyExists, result.Status)
}

func TestRegisterEndpoint_InvalidDOIReturns422(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodPost, "/register", `{"doi":"not-a-doi"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var result services.RegistrationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, services.StatusRejected, result.Status)
	require.NotEmpty(t, result.FieldErrors)
	assert.Equal(t, "doi", result.FieldErrors[0].Field)
}

func TestRegisterEndpoint_MissingBodyReturns400(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(router, http.MethodPost, "/register", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreviewEndpoint(t *testing.T) {
	router, store := testRouter(t)

	w := doJSON(router, http.MethodGet, "/register/preview/10.1000/example.doi", "")
	require.Equal(t, http.StatusOK, w.Code)

	var meta models.ArticleMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, "10.1000/example.doi", meta.DOI)

	// Preview darf nichts anlegen
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Articles)
}

func TestArticleEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	require.Equal(t, http.StatusCreated,
		doJSON(router, http.MethodPost, "/register", `{"doi":"10.1000/example.doi"}`).Code)

	// Abruf über äquivalente DOI-Schreibweise
	w := doJSON(router, http.MethodGet, "/articles/by-doi/10.1000/EXAMPLE.DOI", "")
	require.Equal(t, http.StatusOK, w.Code)

	var article models.Article
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &article))
	assert.Equal(t, "Curcumin Bioavailability Revisited", article.Title)
	require.Len(t, article.Authors, 1)

	list := doJSON(router, http.MethodGet, "/articles/", "")
	require.Equal(t, http.StatusOK, list.Code)

	del := doJSON(router, http.MethodDelete, "/articles/by-doi/10.1000/example.doi", "")
	require.Equal(t, http.StatusOK, del.Code)

	missing := doJSON(router, http.MethodGet, "/articles/by-doi/10.1000/example.doi", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestArticleQueryEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	require.Equal(t, http.StatusCreated,
		doJSON(router, http.MethodPost, "/register", `{"doi":"10.1000/example.doi"}`).Code)

	w := doJSON(router, http.MethodPost, "/articles/query", `{"title":"curcumin","year":2022}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Articles   []models.Article `json:"articles"`
		TotalCount int64            `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, int64(1), result.TotalCount)
	require.Len(t, result.Articles, 1)
	assert.Equal(t, "10.1000/example.doi", result.Articles[0].DOI)

	// Filter ohne Treffer liefert leere Seite und Zähler null
	w = doJSON(router, http.MethodPost, "/articles/query", `{"author":"einstein"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Zero(t, result.TotalCount)
	assert.Empty(t, result.Articles)
}

func TestStatsEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	require.Equal(t, http.StatusCreated,
		doJSON(router, http.MethodPost, "/register", `{"doi":"10.1000/example.doi"}`).Code)

	w := doJSON(router, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats storage.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Articles)
	assert.Equal(t, int64(1), stats.Authors)
}
