package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/platinummonkey/wrench/pkg/audit")

// ObjectPutter is the part of the S3 client the archiver needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the archive bucket
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// ArchiveResult describes one archive run
type ArchiveResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Key      string    `json:"key,omitempty"`
	Archived int       `json:"archived"`
	Purged   int64     `json:"purged"`
}

// Archiver moves expired events out of the primary store. With archiving
// enabled the events are uploaded as NDJSON before they are purged; a failed
// upload leaves the store untouched.
type Archiver struct {
	store  Store
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewArchiver creates an archiver. client may be nil when the retention
// policy does not archive.
func NewArchiver(store Store, client ObjectPutter, bucket, prefix string) *Archiver {
	return &Archiver{
		store:  store,
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

// Run applies the retention policy once
func (a *Archiver) Run(ctx context.Context, policy RetentionPolicy) (*ArchiveResult, error) {
	cutoff := policy.Cutoff(a.now().UTC())
	result := &ArchiveResult{Cutoff: cutoff}

	ctx, span := tracer.Start(ctx, "Audit.Archive",
		trace.WithAttributes(
			attribute.String("audit.cutoff", cutoff.Format(time.RFC3339)),
			attribute.Bool("audit.archive_enabled", policy.ArchiveEnabled),
		),
	)
	defer span.End()

	if policy.ArchiveEnabled {
		if a.client == nil {
			err := fmt.Errorf("archive enabled but no object store configured")
			span.RecordError(err)
			span.SetStatus(codes.Error, "no object store")
			return nil, err
		}

		expired, err := a.expired(ctx, cutoff)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read expired events")
			return nil, err
		}

		if len(expired) > 0 {
			key, err := a.upload(ctx, cutoff, expired)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to upload archive")
				return nil, err
			}
			result.Key = key
			result.Archived = len(expired)
		}
	}

	purged, err := a.store.Purge(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to purge events")
		return nil, err
	}
	result.Purged = purged

	span.SetAttributes(
		attribute.Int("audit.archived", result.Archived),
		attribute.Int64("audit.purged", result.Purged),
	)
	span.SetStatus(codes.Ok, "retention applied")
	return result, nil
}

func (a *Archiver) expired(ctx context.Context, cutoff time.Time) ([]*Event, error) {
	events, err := a.store.Events(ctx, EventFilter{Until: &cutoff})
	if err != nil {
		return nil, fmt.Errorf("failed to list expired events: %w", err)
	}

	out := events[:0]
	for _, e := range events {
		if e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *Archiver) upload(ctx context.Context, cutoff time.Time, events []*Event) (string, error) {
	data, err := exportNDJSON(events)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(data)
	key := path.Join(a.prefix, "rbac-events", cutoff.Format("2006/01/02"),
		fmt.Sprintf("%d-%s.ndjson", cutoff.Unix(), uuid.New().String()))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
			"event-count":     fmt.Sprintf("%d", len(events)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to s3: %w", err)
	}
	return key, nil
}
