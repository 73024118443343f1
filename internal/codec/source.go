package codec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Static errors for codec binary sources.
var (
	// ErrUnsupportedSource is returned for source URLs that are neither http(s) nor s3.
	ErrUnsupportedSource = errors.New("codec: unsupported source URL")
	// ErrFetchFailed is returned when the source responds with a non-2xx status code.
	ErrFetchFailed = errors.New("codec: fetch failed")
)

// Source delivers the codec binary from a fixed location.
type Source interface {
	// Fetch streams the binary into w.
	Fetch(ctx context.Context, w io.Writer) error
	// String describes the location for logging.
	String() string
}

// Compile-time check that both sources implement Source.
var (
	_ Source = (*HTTPSource)(nil)
	_ Source = (*S3Source)(nil)
)

// S3Config holds the connection settings for an S3 source.
type S3Config struct {
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// NewSource builds a Source for rawURL. http and https URLs are fetched with
// a plain GET; s3://bucket/key URLs are read with the AWS SDK using s3Cfg.
func NewSource(rawURL string, s3Cfg S3Config) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedSource, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPSource(rawURL, nil), nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, rawURL)
		}
		return NewS3Source(u.Host, key, s3Cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, rawURL)
	}
}

// HTTPSource fetches the codec binary over HTTP.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource creates an HTTPSource. A nil client gets a 5 minute timeout.
func NewHTTPSource(rawURL string, c *http.Client) *HTTPSource {
	if c == nil {
		c = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPSource{url: rawURL, httpClient: c}
}

// Fetch downloads the binary into w.
func (s *HTTPSource) Fetch(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, s.url, resp.StatusCode)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read %s: %w", s.url, err)
	}
	return nil
}

func (s *HTTPSource) String() string {
	return s.url
}

// S3Source fetches the codec binary from an S3 object.
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Source creates an S3Source for bucket/key.
func NewS3Source(bucket, key string, cfg S3Config) (*S3Source, error) {
	var configOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		configOpts = append(configOpts, config.WithRegion(cfg.Region))
	}

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Source{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: bucket,
		key:    key,
	}, nil
}

// Fetch downloads the object into w.
func (s *S3Source) Fetch(ctx context.Context, w io.Writer) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return fmt.Errorf("get object %s: %w", s, err)
	}
	defer func() { _ = out.Body.Close() }()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("read object %s: %w", s, err)
	}
	return nil
}

func (s *S3Source) String() string {
	return "s3://" + s.bucket + "/" + s.key
}
