// Package archive writes purged refresh-token rows to S3-compatible object
// storage before they are deleted from the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// PutObjectAPI is the part of *s3.Client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Settings locate the archive bucket.
type Settings struct {
	User         string
	Password     string
	Bucket       string
	Region       string
	BaseEndpoint string
	Prefix       string
}

// S3Archiver stores each batch as one JSON-lines object under
// <prefix>/YYYY/MM/DD/<uuid>.jsonl.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	clock  clock.Clock
}

// NewS3Archiver builds an archiver with static credentials. A non-empty
// BaseEndpoint selects path-style addressing for MinIO-like servers.
func NewS3Archiver(ctx context.Context, s Settings, clk clock.Clock) (*S3Archiver, error) {
	if s.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}

	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.User, s.Password, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, s.Bucket, s.Prefix, clk), nil
}

// NewWithClient builds an archiver around an existing client.
func NewWithClient(client PutObjectAPI, bucket, prefix string, clk clock.Clock) *S3Archiver {
	if clk == nil {
		clk = clock.New()
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, clock: clk}
}

// Archive uploads tokens as a single object. It has the shape of
// refreshtokens.ArchiveFunc.
func (a *S3Archiver) Archive(ctx context.Context, tokens []models.RefreshToken) error {
	if len(tokens) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range tokens {
		if err := enc.Encode(&tokens[i]); err != nil {
			return err
		}
	}

	key := a.objectKey()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

func (a *S3Archiver) objectKey() string {
	d := a.clock.Now().UTC()
	return path.Join(a.prefix, fmt.Sprintf("%04d/%02d/%02d", d.Year(), d.Month(), d.Day()), uuid.NewString()+".jsonl")
}
