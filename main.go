package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chemlit-registry/config"
	"chemlit-registry/models"
	"chemlit-registry/providers/crossref"
	"chemlit-registry/services"
	"chemlit-registry/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to articles database.")

	// Auto-Migration
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Article{}, &models.Author{}, &models.FileAsset{})

	store := storage.NewGormStore(db)

	// Setup Services
	objectStore, err := storage.NewS3Store(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	fetcher := crossref.NewFetcher(cfg, logging)
	downloadService := services.NewDownloadService(cfg, store, objectStore, logging)
	registerService := services.NewRegisterService(store, fetcher, downloadService, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupRegistrationRoutes(router, registerService, logging)
	setupArticleRoutes(router, store, logging)
	setupFileRoutes(router, downloadService, logging)
	setupStatsRoutes(router, store, logging)

	// Setup Cron: hängengebliebene Downloads aufräumen
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		count, err := downloadService.SweepStale(context.Background())
		if err != nil {
			logging.Error("Stale download sweep failed", zap.Error(err))
		} else if count > 0 {
			logging.Info("Stale download sweep completed", zap.Int64("failed_assets", count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// doiParam liest die DOI aus einer Wildcard-Route. Gin liefert den führenden
// Slash des Wildcards mit, der nicht Teil der DOI ist.
func doiParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("doi"), "/")
}

func setupRegistrationRoutes(router *gin.Engine, svc *services.RegisterService, log *zap.Logger) {
	rg := router.Group("/register")

	// GET - Registry-Metadaten ansehen, ohne zu registrieren
	rg.GET("/preview/*doi", func(c *gin.Context) {
		meta, err := svc.Preview(c.Request.Context(), doiParam(c))
		if err != nil {
			writeRegistryError(c, err, log)
			return
		}
		c.JSON(http.StatusOK, meta)
	})

	// POST - Artikel registrieren (idempotent)
	rg.POST("", func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body (doi required)"})
			return
		}

		result, err := svc.Register(c.Request.Context(), req)
		if err != nil {
			writeRegistryError(c, err, log)
			return
		}

		switch result.Status {
		case services.StatusCreated:
			c.JSON(http.StatusCreated, result)
		case services.StatusAlreadyExists:
			c.JSON(http.StatusOK, result)
		default:
			c.JSON(http.StatusUnprocessableEntity, result)
		}
	})
}

// writeRegistryError bildet die Fehler des Registrierungspfads auf
// HTTP-Status ab: ungültige DOI 400, unbekannte DOI 404, Registry-Probleme 502.
func writeRegistryError(c *gin.Context, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, services.ErrInvalidDoi):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case crossref.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "doi not found in registry"})
	default:
		log.Error("Registry request failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "metadata registry unavailable"})
	}
}

func setupArticleRoutes(router *gin.Engine, store storage.Store, log *zap.Logger) {
	rg := router.Group("/articles")

	rg.GET("/", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		articles, err := store.ListArticles(c.Request.Context(), limit, offset)
		if err != nil {
			log.Error("Database query for articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	// Body-gesteuerter Endpunkt für gefilterte Suchen
	rg.POST("/query", func(c *gin.Context) {
		var filter storage.ArticleFilter
		if err := c.ShouldBindJSON(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		articles, total, err := store.SearchArticles(c.Request.Context(), filter)
		if err != nil {
			log.Error("Database query for articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"articles":    articles,
			"total_count": total,
		})
	})

	rg.GET("/by-doi/*doi", func(c *gin.Context) {
		doi, err := services.NormalizeDOI(doiParam(c))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid doi"})
			return
		}
		article, err := store.ArticleByDOI(c.Request.Context(), doi)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			log.Error("DB error fetching article", zap.String("doi", doi), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, article)
	})

	// DELETE entfernt Artikel samt Autoren und Assets
	rg.DELETE("/by-doi/*doi", func(c *gin.Context) {
		doi, err := services.NormalizeDOI(doiParam(c))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid doi"})
			return
		}
		if err := store.DeleteArticleByDOI(c.Request.Context(), doi); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			log.Error("DB error deleting article", zap.String("doi", doi), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		log.Info("Article deleted", zap.String("doi", doi))
		c.JSON(http.StatusOK, gin.H{"message": "article deleted", "doi": doi})
	})
}

func setupFileRoutes(router *gin.Engine, svc *services.DownloadService, log *zap.Logger) {
	rg := router.Group("/files")

	// GET - Download-Zustand aller Assets eines Artikels
	rg.GET("/by-doi/*doi", func(c *gin.Context) {
		assets, err := svc.StatusByDOI(c.Request.Context(), doiParam(c))
		if err != nil {
			switch {
			case errors.Is(err, services.ErrInvalidDoi):
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid doi"})
			case errors.Is(err, storage.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			default:
				log.Error("DB error fetching file assets", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			}
			return
		}
		c.JSON(http.StatusOK, assets)
	})
}

func setupStatsRoutes(router *gin.Engine, store storage.Store, log *zap.Logger) {
	router.GET("/stats", func(c *gin.Context) {
		stats, err := store.Stats(c.Request.Context())
		if err != nil {
			log.Error("Stats query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})
}
