package storage

import (
	"context"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
	"golang.org/x/oauth2/google"
)

// Names maps logical bucket names to the physical bucket backing them.
type Names map[string]string

// DefaultNames uses the logical names as physical names.
func DefaultNames() Names {
	names := make(Names, len(Buckets))

	for _, b := range Buckets {
		names[b] = b
	}

	return names
}

func (n Names) physical(logical string) string {
	if name, ok := n[logical]; ok && name != "" {
		return name
	}

	return logical
}

// OpenLocal stores every bucket as a directory under root.
func OpenLocal(ctx context.Context, root string, names Names, opts ...Option) (*Store, error) {
	return open(names, opts, func(name string) (*blob.Bucket, error) {
		dir := filepath.Join(root, name)

		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, err
		}

		return fileblob.OpenBucket(dir, nil)
	})
}

// OpenS3 opens S3 compatible buckets, MinIO included.
func OpenS3(ctx context.Context, config *aws.Config, names Names, opts ...Option) (*Store, error) {
	sess, err := session.NewSession(config)

	if err != nil {
		return nil, errors.Wrap(err, "unable to create aws session")
	}

	return open(names, opts, func(name string) (*blob.Bucket, error) {
		return s3blob.OpenBucket(ctx, sess, name, nil)
	})
}

// OpenGCS opens Google Cloud Storage buckets with the default credentials.
func OpenGCS(ctx context.Context, names Names, opts ...Option) (*Store, error) {
	creds, err := google.FindDefaultCredentials(ctx, gcs.ScopeReadWrite)

	if err != nil {
		return nil, errors.Wrap(err, "unable to find gcp credentials")
	}

	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))

	if err != nil {
		return nil, errors.Wrap(err, "unable to create gcp client")
	}

	return open(names, opts, func(name string) (*blob.Bucket, error) {
		return gcsblob.OpenBucket(ctx, client, name, nil)
	})
}

// OpenMemory keeps every bucket in memory.
func OpenMemory(opts ...Option) *Store {
	buckets := make(map[string]*blob.Bucket, len(Buckets))

	for _, b := range Buckets {
		buckets[b] = memblob.OpenBucket(nil)
	}

	return NewStore(buckets, opts...)
}

func open(names Names, opts []Option, opener func(name string) (*blob.Bucket, error)) (*Store, error) {
	if names == nil {
		names = DefaultNames()
	}

	buckets := make(map[string]*blob.Bucket, len(Buckets))

	for _, logical := range Buckets {
		b, err := opener(names.physical(logical))

		if err != nil {
			for _, opened := range buckets {
				_ = opened.Close()
			}

			return nil, errors.Wrapf(err, "unable to open bucket '%s'", names.physical(logical))
		}

		buckets[logical] = b
	}

	return NewStore(buckets, opts...), nil
}
