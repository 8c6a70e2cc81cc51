package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"placement/internal/config"
	"placement/internal/models"
)

type ObjectStore struct {
	client *minio.Client
	cfg    config.StorageConfig
	now    func() time.Time
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

func (s *ObjectStore) EnsureBuckets(ctx context.Context) error {
	bucket := s.cfg.BucketArchive
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

type archivedAccount struct {
	Account    models.Account         `json:"account"`
	Profile    *models.StudentProfile `json:"profile,omitempty"`
	ArchivedAt time.Time              `json:"archivedAt"`
}

// ArchiveKey is the object key of an account snapshot taken at t.
func ArchiveKey(accountID string, t time.Time) string {
	return path.Join("accounts", accountID, t.UTC().Format("20060102T150405Z")+".json")
}

// ArchiveAccount stores a JSON snapshot of the account, and its student
// profile when there is one, in the archive bucket.
func (s *ObjectStore) ArchiveAccount(ctx context.Context, acc models.Account, profile *models.StudentProfile) error {
	now := s.now()
	payload, err := json.Marshal(archivedAccount{Account: acc, Profile: profile, ArchivedAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}

	key := ArchiveKey(acc.ID, now)
	_, err = s.client.PutObject(ctx, s.cfg.BucketArchive, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"account-role": string(acc.Role),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.cfg.BucketArchive)
	return err
}
