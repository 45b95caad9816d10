package storage

import (
	"context"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// EnsureMinIOBuckets creates the physical buckets behind names when missing.
func EnsureMinIOBuckets(ctx context.Context, cfg MinIOConfig, names Names) error {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})

	if err != nil {
		return errors.Wrap(err, "unable to create minio client")
	}

	if names == nil {
		names = DefaultNames()
	}

	for _, logical := range Buckets {
		bucket := names.physical(logical)
		exists, err := client.BucketExists(ctx, bucket)

		if err != nil {
			return errors.Wrapf(err, "unable to check bucket '%s'", bucket)
		}

		if exists {
			continue
		}

		if err := client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return errors.Wrapf(err, "unable to create bucket '%s'", bucket)
		}

		log.Infof("created bucket '%s'", bucket)
	}

	return nil
}
