package storage

import (
	"context"
	"io"
	"os"
	"path"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"reel/internal/failure"
)

// Logical buckets.
const (
	Videos     = "videos"
	Thumbnails = "thumbnails"
	Manifests  = "manifests"
)

// Buckets lists every logical bucket the pipeline writes to.
var Buckets = []string{Videos, Thumbnails, Manifests}

var ErrNotFound = errors.New("object not found")

// Store addresses objects by (bucket, key) over a set of blob buckets.
type Store struct {
	buckets       map[string]*blob.Bucket
	retryAttempts uint
	retryDelay    time.Duration
}

type Option func(s *Store)

// WithUploadRetry sets how many times a file upload is tried before it
// fails with an upload error.
func WithUploadRetry(attempts uint, delay time.Duration) Option {
	return func(s *Store) {
		s.retryAttempts = attempts
		s.retryDelay = delay
	}
}

func NewStore(buckets map[string]*blob.Bucket, opts ...Option) *Store {
	s := &Store{
		buckets:       buckets,
		retryAttempts: 3,
		retryDelay:    time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) bucket(name string) (*blob.Bucket, error) {
	b, ok := s.buckets[name]

	if !ok {
		return nil, errors.Errorf("unknown bucket '%s'", name)
	}

	return b, nil
}

// Put writes data to bucket/key.
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) (string, error) {
	b, err := s.bucket(bucket)

	if err != nil {
		return "", failure.New(failure.Upload, "put "+bucket+"/"+key, err)
	}

	if err := b.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: ContentType(key)}); err != nil {
		return "", failure.New(failure.Upload, "put "+bucket+"/"+key, err)
	}

	return key, nil
}

// PutFile streams a local file to bucket/key, retrying transient failures.
func (s *Store) PutFile(ctx context.Context, bucket, key, filePath string) (string, error) {
	b, err := s.bucket(bucket)

	if err != nil {
		return "", failure.New(failure.Upload, "put "+bucket+"/"+key, err)
	}

	err = retry.Do(
		func() error {
			return write(ctx, b, key, filePath)
		},
		retry.Context(ctx),
		retry.Attempts(s.retryAttempts),
		retry.Delay(s.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !os.IsNotExist(errors.Cause(err))
		}),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithFields(log.Fields{
				"bucket": bucket,
				"key":    key,
			}).Warnf("upload attempt %d failed", n+1)
		}),
	)

	if err != nil {
		return "", failure.New(failure.Upload, "put "+bucket+"/"+key, err)
	}

	return key, nil
}

func write(ctx context.Context, b *blob.Bucket, key, filePath string) error {
	file, err := os.Open(filePath)

	if err != nil {
		return err
	}

	defer file.Close()

	writer, err := b.NewWriter(ctx, key, &blob.WriterOptions{ContentType: ContentType(key)})

	if err != nil {
		return err
	}

	if _, err = io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return err
	}

	return writer.Close()
}

// Get reads a whole object.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	b, err := s.bucket(bucket)

	if err != nil {
		return nil, err
	}

	data, err := b.ReadAll(ctx, key)

	if err != nil {
		return nil, notFound(err, bucket, key)
	}

	return data, nil
}

// Reader opens an object as a stream. The caller closes it.
func (s *Store) Reader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	b, err := s.bucket(bucket)

	if err != nil {
		return nil, err
	}

	reader, err := b.NewReader(ctx, key, nil)

	if err != nil {
		return nil, notFound(err, bucket, key)
	}

	return reader, nil
}

// Download copies an object to a local file.
func (s *Store) Download(ctx context.Context, bucket, key, filePath string) error {
	log.Debugf("download '%s/%s' to '%s'", bucket, key, filePath)

	reader, err := s.Reader(ctx, bucket, key)

	if err != nil {
		return err
	}

	defer reader.Close()

	file, err := os.Create(filePath)

	if err != nil {
		return errors.Wrapf(err, "unable to create '%s'", filePath)
	}

	if _, err = io.Copy(file, reader); err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "unable to download '%s/%s'", bucket, key)
	}

	return file.Close()
}

// Delete removes one object and reports whether it existed.
func (s *Store) Delete(ctx context.Context, bucket, key string) (bool, error) {
	b, err := s.bucket(bucket)

	if err != nil {
		return false, err
	}

	if err = b.Delete(ctx, key); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return false, nil
		}

		return false, errors.Wrapf(err, "unable to delete '%s/%s'", bucket, key)
	}

	return true, nil
}

// DeletePrefix removes every object under prefix and returns how many were
// deleted.
func (s *Store) DeletePrefix(ctx context.Context, bucket, prefix string) (int, error) {
	iter, err := s.List(bucket, prefix)

	if err != nil {
		return 0, err
	}

	deleted := 0

	for {
		key, err := iter.Next(ctx)

		if err == io.EOF {
			break
		}

		if err != nil {
			return deleted, err
		}

		ok, err := s.Delete(ctx, bucket, key)

		if err != nil {
			return deleted, err
		}

		if ok {
			deleted++
		}
	}

	return deleted, nil
}

// Exists reports whether bucket/key is present.
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	b, err := s.bucket(bucket)

	if err != nil {
		return false, err
	}

	return b.Exists(ctx, key)
}

// Iterator walks keys lazily.
type Iterator struct {
	iter *blob.ListIterator
}

// Next returns the next key or io.EOF.
func (i *Iterator) Next(ctx context.Context) (string, error) {
	for {
		obj, err := i.iter.Next(ctx)

		if err != nil {
			return "", err
		}

		if obj.IsDir {
			continue
		}

		return obj.Key, nil
	}
}

// List iterates over every key under prefix, however deep.
func (s *Store) List(bucket, prefix string) (*Iterator, error) {
	b, err := s.bucket(bucket)

	if err != nil {
		return nil, err
	}

	return &Iterator{iter: b.List(&blob.ListOptions{Prefix: prefix})}, nil
}

// Keys collects List into a sorted slice.
func (s *Store) Keys(ctx context.Context, bucket, prefix string) ([]string, error) {
	iter, err := s.List(bucket, prefix)

	if err != nil {
		return nil, err
	}

	var keys []string

	for {
		key, err := iter.Next(ctx)

		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, errors.Wrapf(err, "unable to list '%s/%s'", bucket, prefix)
		}

		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys, nil
}

func (s *Store) Close() error {
	var first error

	for name, b := range s.buckets {
		if err := b.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "unable to close bucket '%s'", name)
		}
	}

	return first
}

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".jpg":  "image/jpeg",
	".mp4":  "video/mp4",
}

// ContentType guesses an object content type from its key.
func ContentType(key string) string {
	if ct, ok := contentTypes[path.Ext(key)]; ok {
		return ct
	}

	return "application/octet-stream"
}

func notFound(err error, bucket, key string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return errors.Wrapf(ErrNotFound, "'%s/%s'", bucket, key)
	}

	return errors.Wrapf(err, "unable to read '%s/%s'", bucket, key)
}
