package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/thumbnail-api/internal/codec"
	"github.com/maauso/thumbnail-api/internal/metrics"
)

// Transcoder renders one codec input into JPEG bytes.
// *codec.Session is the production implementation.
type Transcoder interface {
	Thumbnail(ctx context.Context, in codec.Input) ([]byte, error)
}

// Initializer is implemented by transcoders with a one-time setup step.
// The service waits for it outside the limiter and the transcode timeout.
type Initializer interface {
	EnsureReady(ctx context.Context) error
}

var (
	_ Transcoder  = (*codec.Session)(nil)
	_ Initializer = (*codec.Session)(nil)
)

// Service turns thumbnail requests into JPEG thumbnails.
//
// Client errors (ErrNoFile, ErrUnsupportedType, ErrInvalidDimensions) are
// returned before the codec is touched. Every codec failure is returned as a
// *ProcessingError. The number of codec invocations running at once is bounded
// by the service's limiter; the default of one serializes them.
type Service struct {
	codec     Transcoder
	validator *validator.Validate
	sem       chan struct{}
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithMaxConcurrent sets how many codec invocations may run in parallel.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithTimeout bounds each codec invocation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithMetrics records transcode metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used for service spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService creates a new Service backed by t.
func NewService(t Transcoder, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		codec:     t,
		validator: validator.New(),
		sem:       make(chan struct{}, 1),
		logger:    logger,
		tracer:    otel.Tracer("github.com/maauso/thumbnail-api/internal/thumbnail"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks req without invoking the codec.
func (s *Service) Validate(req Request) error {
	if len(req.Data) == 0 {
		return ErrNoFile
	}
	if !IsSupported(req.MIMEType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, req.MIMEType)
	}
	if err := s.validator.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDimensions, err)
	}
	return nil
}

// Generate validates req and renders its thumbnail.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := s.Validate(req); err != nil {
		s.metrics.ObserveRejected(rejectReason(err))
		return nil, err
	}

	kind := KindOf(req.MIMEType)
	ctx, span := s.tracer.Start(ctx, "thumbnail.Generate", trace.WithAttributes(
		attribute.String("thumbnail.mime_type", req.MIMEType),
		attribute.String("thumbnail.kind", kind.String()),
		attribute.Int("thumbnail.width", req.Width),
		attribute.Int("thumbnail.height", req.Height),
	))
	defer span.End()

	out, err := s.transcode(ctx, kind, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("thumbnail generation failed",
			slog.String("filename", req.Filename),
			slog.String("mime_type", req.MIMEType),
			slog.String("error", err.Error()),
		)
		return nil, &ProcessingError{Err: err}
	}

	s.logger.Info("thumbnail generated",
		slog.String("filename", req.Filename),
		slog.String("kind", kind.String()),
		slog.Int("width", req.Width),
		slog.Int("height", req.Height),
		slog.Int("input_bytes", len(req.Data)),
		slog.Int("output_bytes", len(out)),
	)

	return &Result{
		JPEG:   out,
		Width:  req.Width,
		Height: req.Height,
	}, nil
}

// transcode runs one codec invocation inside the limiter and timeout.
func (s *Service) transcode(ctx context.Context, kind codec.Kind, req Request) ([]byte, error) {
	if initer, ok := s.codec.(Initializer); ok {
		if err := initer.EnsureReady(ctx); err != nil {
			return nil, err
		}
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for codec: %w", ctx.Err())
	}
	defer func() { <-s.sem }()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := s.metrics.TranscodeStarted()
	start := time.Now()
	out, err := s.codec.Thumbnail(ctx, codec.Input{
		Filename: req.Filename,
		Data:     req.Data,
		Kind:     kind,
		Width:    req.Width,
		Height:   req.Height,
	})
	done()

	outcome := "success"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
	}
	s.metrics.ObserveTranscode(kind.String(), outcome, time.Since(start))

	return out, err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNoFile):
		return "no_file"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrInvalidDimensions):
		return "invalid_dimensions"
	default:
		return "other"
	}
}
