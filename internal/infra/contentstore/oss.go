package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/gabriel-vasile/mimetype"

	"decertify/internal/domain"
)

// Bucket is the subset of *oss.Bucket used by OSS.
type Bucket interface {
	IsObjectExist(objectKey string, options ...oss.Option) (bool, error)
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	GetObject(objectKey string, options ...oss.Option) (io.ReadCloser, error)
}

// OSS stores documents in an Aliyun bucket under their sha256 digest.
type OSS struct {
	bucket Bucket
	prefix string
}

type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Prefix          string
}

func NewOSS(cfg OSSConfig) (*OSS, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("oss endpoint and bucket are required")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret, oss.Timeout(10, 120))
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("oss bucket: %w", err)
	}
	return NewOSSWithBucket(bucket, cfg.Prefix), nil
}

func NewOSSWithBucket(bucket Bucket, prefix string) *OSS {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" {
		prefix += "/"
	}
	return &OSS{bucket: bucket, prefix: prefix}
}

func (s *OSS) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("content is empty")
	}
	id := digestKey(data)
	exists, err := s.bucket.IsObjectExist(s.prefix+id, oss.WithContext(ctx))
	if err != nil {
		return "", classifyOSS("oss head", err)
	}
	if exists {
		return id, nil
	}
	err = s.bucket.PutObject(s.prefix+id, bytes.NewReader(data),
		oss.WithContext(ctx),
		oss.ContentType(mimetype.Detect(data).String()),
	)
	if err != nil {
		return "", classifyOSS("oss put", err)
	}
	return id, nil
}

func (s *OSS) Get(ctx context.Context, contentID string) ([]byte, error) {
	if !strings.HasPrefix(contentID, digestPrefix) {
		return nil, domain.ErrNotFound
	}
	body, err := s.bucket.GetObject(s.prefix+contentID, oss.WithContext(ctx))
	if err != nil {
		return nil, classifyOSS("oss get", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, transportError("oss read", err)
	}
	if err := verifyDigest(contentID, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, contentID, err)
	}
	return data, nil
}

func classifyOSS(op string, err error) error {
	var se oss.ServiceError
	if !errors.As(err, &se) {
		return transportError(op, err)
	}
	switch {
	case se.Code == "NoSuchKey" || se.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, se.Code)
	case strings.Contains(se.Code, "Quota") || se.Code == "EntityTooLarge" || se.Code == "InsufficientStorage":
		return fmt.Errorf("%w: %s: %s", domain.ErrQuotaExceeded, se.Code, se.Message)
	}
	return classifyStatus(se.StatusCode, se.Code+": "+se.Message)
}
