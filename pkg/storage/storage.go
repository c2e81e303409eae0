// Package storage mirrors rendered media into Cloudflare R2 before
// publishing. Render providers hand out expiring URLs; the mirror gives the
// publish stage a stable copy under our control, so platform-side pulls and
// retries never depend on the render provider keeping the file alive.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/pipecast/pipecast/pkg/config"
)

// maxMediaBytes bounds a single mirrored object. Rendered shorts are tens of
// megabytes; anything past this is a misbehaving source.
const maxMediaBytes = 512 << 20

// allowedTypes are the media extensions the mirror will accept. Everything
// else is rejected before upload.
var allowedTypes = map[string]struct{}{
	"mp4":  {},
	"mov":  {},
	"webm": {},
	"jpg":  {},
	"png":  {},
}

// MirrorResult describes one stored object.
type MirrorResult struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// MediaStore is the capability the video stage consumes.
type MediaStore interface {
	Mirror(ctx context.Context, executionID, sourceURL string) (*MirrorResult, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Store is the production MediaStore over a Cloudflare R2 bucket.
type R2Store struct {
	bucket     string
	publicBase string
	client     objectPutter
	download   *http.Client
}

// NewR2Store builds the S3 client against the account's R2 endpoint.
func NewR2Store(cfg config.R2) (*R2Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	})

	return &R2Store{
		bucket:     cfg.BucketName,
		publicBase: cfg.PublicBase,
		client:     client,
		download:   &http.Client{},
	}, nil
}

// Mirror downloads the source media, sniffs and validates its type, and
// uploads it under a fresh key. The source URL is fetched once; retries are
// the caller's policy.
func (s *R2Store) Mirror(ctx context.Context, executionID, sourceURL string) (*MirrorResult, error) {
	media, err := s.fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	kind, err := sniffType(media)
	if err != nil {
		return nil, err
	}

	key, err := objectKey(executionID, kind.Extension)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(media),
		ContentType: aws.String(kind.MIME.Value),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload media to bucket %s: %w", s.bucket, err)
	}

	return &MirrorResult{
		Key:         key,
		URL:         s.publicBase + "/" + key,
		ContentType: kind.MIME.Value,
		Size:        int64(len(media)),
	}, nil
}

func (s *R2Store) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create media download request: %w", err)
	}

	resp, err := s.download.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media source returned status %d", resp.StatusCode)
	}

	media, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}

	if len(media) > maxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d byte limit", maxMediaBytes)
	}

	return media, nil
}

// sniffType identifies the media by magic bytes, never by URL suffix.
func sniffType(media []byte) (types.Type, error) {
	kind, err := filetype.Match(media)
	if err != nil || kind == types.Unknown {
		return types.Unknown, fmt.Errorf("unrecognized media type: %w", err)
	}

	if _, ok := allowedTypes[kind.Extension]; !ok {
		return types.Unknown, fmt.Errorf("media type %s is not allowed", kind.Extension)
	}

	return kind, nil
}

// objectKey builds a collision-free key scoped by execution.
func objectKey(executionID, extension string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate object key: %w", err)
	}

	return path.Join("media", executionID, id+"."+extension), nil
}
