package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	documentPrefix = "documents/"
	metadataPrefix = "metadata/"
)

// MinioConfig holds connection settings for MinioStore.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps document content under documents/<id> and a JSON
// metadata sidecar under metadata/<id>.json in a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and creates the bucket if it is missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func documentKey(id string) string { return documentPrefix + id }
func metadataKey(id string) string { return metadataPrefix + id + ".json" }

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (s *MinioStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, s.bucket, documentKey(meta.ID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: meta.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("put document %s: %w", meta.ID, err)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, metadataKey(meta.ID), bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("put metadata %s: %w", meta.ID, err)
	}
	return &meta, nil
}

func (s *MinioStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, documentKey(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return obj, meta, nil
}

func (s *MinioStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, documentKey(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove document %s: %w", id, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, metadataKey(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove metadata %s: %w", id, err)
	}
	return nil
}

func (s *MinioStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	return s.readMetadata(ctx, metadataKey(id))
}

func (s *MinioStore) readMetadata(ctx context.Context, key string) (*BlobMetadata, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("get metadata %s: %w", key, err)
	}
	defer obj.Close()

	// GetObject is lazy: a missing key surfaces on the first read.
	raw, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read metadata %s: %w", key, err)
	}

	var meta BlobMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", key, err)
	}
	return &meta, nil
}

// Search reads every metadata sidecar and filters in process.
func (s *MinioStore) Search(ctx context.Context, params SearchParams) ([]*BlobMetadata, int, error) {
	var matched []*BlobMetadata
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: metadataPrefix, Recursive: true}) {
		if info.Err != nil {
			return nil, 0, fmt.Errorf("list metadata: %w", info.Err)
		}
		meta, err := s.readMetadata(ctx, info.Key)
		if err != nil {
			return nil, 0, err
		}
		if matchesSearch(meta, params) {
			matched = append(matched, meta)
		}
	}

	page, total := paginate(matched, params.Limit, params.Offset)
	return page, total, nil
}

// Ping checks that the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
