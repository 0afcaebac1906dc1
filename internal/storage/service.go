package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/agazso/runtracker/internal/db"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// ObjectStore is the subset of *minio.Client used for uploads.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Object is an uploaded file recorded in storage_objects.
type Object struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	PathID    string    `json:"path_id"`
	URL       string    `json:"url"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	db      db.Querier
	objects ObjectStore
	bucket  string
}

func NewService(db db.Querier, objects ObjectStore, bucket string) *Service {
	return &Service{db: db, objects: objects, bucket: bucket}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.objects.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.objects.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	log.Printf("created bucket %s", s.bucket)
	return nil
}

// Upload stores data under key and returns its s3:// URL.
func (s *Service) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.objects.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *Service) SaveObject(ctx context.Context, deviceID, pathID, url, kind string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO storage_objects (id, device_id, path_id, url, kind)
		VALUES ($1,$2,$3,$4,$5)
	`, id, deviceID, pathID, url, kind)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) Objects(ctx context.Context, pathID string) ([]Object, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, device_id, path_id, url, kind, created_at
		FROM storage_objects WHERE path_id=$1
		ORDER BY kind
	`, pathID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	objects := []Object{}
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.ID, &o.DeviceID, &o.PathID, &o.URL, &o.Kind, &o.CreatedAt); err != nil {
			return nil, err
		}
		objects = append(objects, o)
	}
	return objects, rows.Err()
}
