package blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/webpods-org/webpods/core/logger"
)

// S3 stores record content in an AWS S3 bucket. S3 object writes are
// atomic on their own, so no rename dance is needed.
type S3 struct {
	config    aws.Config
	bucket    string
	keyPrefix string
	validity  S3Configuration
}

// NewS3 returns a new S3 driver.
func NewS3(storageConfig S3Configuration) (*S3, error) {
	if storageConfig.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	config, err := awsconfig.LoadDefaultConfig(
		context.TODO(),
		awsconfig.WithRegion(storageConfig.AWSRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(storageConfig.AccessID, storageConfig.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("blob storage: S3 enabled:", storageConfig.AWSBucketName)
	return &S3{
		config:    config,
		bucket:    storageConfig.AWSBucketName,
		keyPrefix: storageConfig.KeyPrefix,
		validity:  storageConfig,
	}, nil
}

func (s *S3) upload(ctx context.Context, key string, data []byte) error {
	uploader := manager.NewUploader(s3.NewFromConfig(s.config))
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Store writes the by-hash and by-name objects.
func (s *S3) Store(ctx context.Context, pod, streamPath, recordName, contentHash string, data []byte, ext string) (string, error) {
	byHash := hashKey(pod, contentHash)
	byName := nameKey(pod, streamPath, recordName, ext)

	if err := s.upload(ctx, byHash, data); err != nil {
		return "", err
	}
	if err := s.upload(ctx, byName, data); err != nil {
		return "", err
	}
	return byName, nil
}

// URL returns a pre-signed GET URL for the by-name object.
func (s *S3) URL(storageID string) (string, error) {
	client := s3.NewPresignClient(s3.NewFromConfig(s.config))
	resp, err := client.PresignGetObject(context.TODO(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + storageID),
	}, s3.WithPresignExpires(s.validity.presignedValidity()))
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (s *S3) deleteObject(ctx context.Context, key string) error {
	client := s3.NewFromConfig(s.config)
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + key),
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("could not delete", key)
	}
	return err
}

// Delete removes the by-name object and, when purge is set, also the
// permanent by-hash object.
func (s *S3) Delete(ctx context.Context, pod, streamPath, recordName, contentHash, ext string, purge bool) error {
	if err := s.deleteObject(ctx, nameKey(pod, streamPath, recordName, ext)); err != nil {
		return err
	}
	if purge {
		return s.deleteObject(ctx, hashKey(pod, contentHash))
	}
	return nil
}

// Exists reports whether an object exists at the driver-relative key.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	client := s3.NewFromConfig(s.config)
	_, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + sanitizePath(key)),
	})
	if err != nil {
		// HeadObject reports missing keys as an error
		return false, nil
	}
	return true, nil
}
