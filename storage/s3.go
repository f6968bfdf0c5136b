package storage

import (
	"bytes"
	"context"
	"fmt"

	"chemlit-registry/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore abstrahiert die Ablage heruntergeladener Dateien. Die
// Produktions-Implementierung ist S3Store; Tests hängen hier einen
// In-Memory-Ersatz ein.
type ObjectStore interface {
	// Put legt die Daten unter key ab und liefert die Referenz zurück,
	// die als local_ref am FileAsset gespeichert wird.
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// S3Store legt Artikel-Dateien in einem S3-Bucket (Strato HiDrive) ab.
type S3Store struct {
	client *s3.Client
	bucket string
	url    string
}

// NewS3Store erstellt einen S3Store für Strato HiDrive.
func NewS3Store(cfg *config.Config) (*S3Store, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.StratoS3URL,
				SigningRegion:     cfg.StratoS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.StratoS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.StratoS3Key, cfg.StratoS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.StratoS3Bucket,
		url:    cfg.StratoS3URL,
	}, nil
}

// Put lädt die Daten in den Bucket hoch und gibt den Link zurück.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", s.url, s.bucket, key), nil
}
