package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// CrossRef-Registry für den Metadaten-Abruf per DOI
	CrossRefBaseURL       string `envconfig:"CROSSREF_BASE_URL" default:"https://api.crossref.org"`
	CrossRefMailto        string `envconfig:"CROSSREF_MAILTO"`
	CrossRefUserAgent     string `envconfig:"CROSSREF_USER_AGENT" default:"chemlit-registry/1.0"`
	CrossRefRatePerMinute int    `envconfig:"CROSSREF_RATE_PER_MINUTE" default:"50"`
	CrossRefTimeoutSec    int    `envconfig:"CROSSREF_TIMEOUT_SECONDS" default:"30"`
	CrossRefMaxRetries    int    `envconfig:"CROSSREF_MAX_RETRIES" default:"3"`
	CrossRefBackoffMillis int    `envconfig:"CROSSREF_BACKOFF_MILLIS" default:"500"`

	// Datei-Downloads
	DownloadTimeoutSec  int `envconfig:"DOWNLOAD_TIMEOUT_SECONDS" default:"60"`
	DownloadMaxAttempts int `envconfig:"DOWNLOAD_MAX_ATTEMPTS" default:"2"`
	StaleClaimMinutes   int `envconfig:"STALE_CLAIM_MINUTES" default:"30"`

	// Cron für das Aufräumen hängengebliebener Downloads
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"*/10 * * * *"`

	StratoS3Key    string `envconfig:"STRATO_S3_KEY" required:"true"`
	StratoS3Secret string `envconfig:"STRATO_S3_SECRET" required:"true"`
	StratoS3URL    string `envconfig:"STRATO_S3_URL" required:"true"`
	StratoS3Region string `envconfig:"STRATO_S3_REGION" required:"true"`
	StratoS3Bucket string `envconfig:"STRATO_S3_BUCKET" required:"true"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// CrossRefTimeout liefert den Request-Timeout für die Registry als Duration.
func (c *Config) CrossRefTimeout() time.Duration {
	return time.Duration(c.CrossRefTimeoutSec) * time.Second
}

// CrossRefBackoff liefert die Basis-Wartezeit zwischen Retry-Versuchen.
func (c *Config) CrossRefBackoff() time.Duration {
	return time.Duration(c.CrossRefBackoffMillis) * time.Millisecond
}

// DownloadTimeout liefert den Timeout pro Datei-Download.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSec) * time.Second
}

// StaleClaimAge liefert das Alter, ab dem ein laufender Download als
// hängengeblieben gilt.
func (c *Config) StaleClaimAge() time.Duration {
	return time.Duration(c.StaleClaimMinutes) * time.Minute
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
