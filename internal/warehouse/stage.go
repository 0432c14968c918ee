package warehouse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StageStatus reports whether a staged file was written or already there.
type StageStatus string

const (
	StageUploaded StageStatus = "UPLOADED"
	StageSkipped  StageStatus = "SKIPPED"
)

// ErrObjectNotFound is returned when a staged object does not exist.
var ErrObjectNotFound = errors.New("staged object not found")

// StageResult describes one file staged into the object store.
type StageResult struct {
	LocalPath  string
	StagePath  string
	Status     StageStatus
	SourceSize int64
	StagedSize int64 // gzip-compressed size
	Elapsed    time.Duration
}

// ObjectStore is the staging area validated files pass through on their
// way into the warehouse. Implementations must be safe for sequential use
// by one loader.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Stat returns the object's size, or ErrObjectNotFound.
	Stat(ctx context.Context, bucket, key string) (int64, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// S3Store implements ObjectStore against MinIO or any S3-compatible
// endpoint.
type S3Store struct {
	client *minio.Client
	region string
}

var _ ObjectStore = (*S3Store)(nil)

// NewS3Store builds an S3-backed staging store. The endpoint may carry a
// scheme; https forces TLS.
func NewS3Store(endpoint, accessKey, secretKey, region string) (*S3Store, error) {
	if endpoint == "" {
		return nil, errors.New("staging endpoint is required")
	}

	if accessKey == "" || secretKey == "" {
		return nil, errors.New("staging credentials are required")
	}

	host := endpoint
	useSSL := false

	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging client: %w", err)
	}

	return &S3Store{client: client, region: region}, nil
}

func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}

	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}

	return nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/gzip"})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}

	return nil
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}

	defer func() {
		_ = obj.Close()
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}

		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}

	return data, nil
}

func (s *S3Store) Stat(ctx context.Context, bucket, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return 0, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}

		return 0, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}

	return info.Size, nil
}

func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string

	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, obj.Err)
		}

		keys = append(keys, obj.Key)
	}

	sort.Strings(keys)

	return keys, nil
}

// LocalStore implements ObjectStore on the local filesystem, for
// development runs without an S3 endpoint. Buckets are directories under
// the root.
type LocalStore struct {
	root string
}

var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore roots a filesystem staging store at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

func (s *LocalStore) EnsureBucket(_ context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(s.root, bucket), 0o755)
}

func (s *LocalStore) Put(_ context.Context, bucket, key string, data []byte) error {
	path := filepath.Join(s.root, bucket, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func (s *LocalStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, bucket, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}

	return data, err
}

func (s *LocalStore) Stat(_ context.Context, bucket, key string) (int64, error) {
	info, err := os.Stat(filepath.Join(s.root, bucket, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}

	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

func (s *LocalStore) List(_ context.Context, bucket, prefix string) ([]string, error) {
	bucketDir := filepath.Join(s.root, bucket)

	var keys []string

	err := filepath.Walk(bucketDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)

	return keys, nil
}

// StageFile gzip-compresses a local file and writes it into the store
// under stagePath. When an object of identical compressed size is already
// present the write is skipped.
func StageFile(ctx context.Context, store ObjectStore, bucket, localPath, stagePath string) (StageResult, error) {
	start := time.Now()

	raw, err := os.ReadFile(localPath)
	if err != nil {
		return StageResult{}, fmt.Errorf("read %q: %w", localPath, err)
	}

	var compressed bytes.Buffer

	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return StageResult{}, fmt.Errorf("compress %q: %w", localPath, err)
	}

	if err := zw.Close(); err != nil {
		return StageResult{}, fmt.Errorf("compress %q: %w", localPath, err)
	}

	key := stagePath + ".gz"
	stagedSize := int64(compressed.Len())

	existing, err := store.Stat(ctx, bucket, key)
	if err == nil && existing == stagedSize {
		return StageResult{
			LocalPath:  localPath,
			StagePath:  key,
			Status:     StageSkipped,
			SourceSize: int64(len(raw)),
			StagedSize: stagedSize,
			Elapsed:    time.Since(start),
		}, nil
	}

	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return StageResult{}, err
	}

	if err := store.Put(ctx, bucket, key, compressed.Bytes()); err != nil {
		return StageResult{}, err
	}

	return StageResult{
		LocalPath:  localPath,
		StagePath:  key,
		Status:     StageUploaded,
		SourceSize: int64(len(raw)),
		StagedSize: stagedSize,
		Elapsed:    time.Since(start),
	}, nil
}
