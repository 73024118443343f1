// Package codec wraps the external ffmpeg codec engine.
//
// A Session is the process-wide handle to the engine. It is initialized
// lazily on first use (resolving, and optionally fetching, the ffmpeg binary)
// and then reused for every thumbnail. Each thumbnail runs in its own
// workspace scope which is always released before Thumbnail returns.
package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/h2non/filetype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/thumbnail-api/internal/workspace"
)

// Static errors for codec sessions.
var (
	// ErrInitFailed is returned when the codec engine could not be initialized.
	ErrInitFailed = errors.New("codec: initialization failed")
	// ErrEmptyOutput is returned when ffmpeg succeeded but produced no image.
	ErrEmptyOutput = errors.New("codec: no output produced")
)

// DefaultQuality is ffmpeg's "very good" JPEG qscale.
const DefaultQuality = 2

// DefaultInitTimeout bounds one initialization attempt, fetch included.
const DefaultInitTimeout = 5 * time.Minute

// State is the lifecycle state of a Session.
type State int32

const (
	// StateUninitialized means no binary has been resolved yet.
	StateUninitialized State = iota
	// StateInitializing means a caller is resolving the binary.
	StateInitializing
	// StateReady means the binary is resolved and verified.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Input is one thumbnail invocation.
type Input struct {
	// Filename is the original upload name; only its extension is used.
	Filename string
	// Data is the raw media payload.
	Data []byte
	// Kind selects the image or video extraction path.
	Kind Kind
	// Width and Height are the exact output dimensions.
	Width  int
	Height int
}

// initAttempt is one in-flight initialization. err is set before done closes.
type initAttempt struct {
	done chan struct{}
	err  error
}

// Session is the lazily initialized handle to the codec engine.
type Session struct {
	mu      sync.Mutex
	state   atomic.Int32
	attempt *initAttempt

	initTimeout time.Duration

	ffmpegPath string
	source     Source
	runner     *Runner
	version    string

	ws      *workspace.Workspace
	quality int
	logger  *slog.Logger
	tracer  trace.Tracer
}

// SessionOption is a function that configures a Session.
type SessionOption func(*Session)

// WithFFmpegPath sets the binary resolved through PATH when no source is set.
func WithFFmpegPath(path string) SessionOption {
	return func(s *Session) {
		if path != "" {
			s.ffmpegPath = path
		}
	}
}

// WithSource makes the session fetch the binary from src on initialization.
func WithSource(src Source) SessionOption {
	return func(s *Session) {
		s.source = src
	}
}

// WithInitTimeout bounds each initialization attempt.
func WithInitTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.initTimeout = d
		}
	}
}

// WithQuality sets the JPEG qscale (2..31, lower is better).
func WithQuality(q int) SessionOption {
	return func(s *Session) {
		s.quality = q
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer used for codec spans.
func WithTracer(tracer trace.Tracer) SessionOption {
	return func(s *Session) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewSession creates an uninitialized Session staging artifacts in ws.
func NewSession(ws *workspace.Workspace, opts ...SessionOption) *Session {
	s := &Session{
		ffmpegPath:  "ffmpeg",
		initTimeout: DefaultInitTimeout,
		ws:          ws,
		quality:     DefaultQuality,
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/maauso/thumbnail-api/internal/codec"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Version returns the probed ffmpeg version line, empty before initialization.
func (s *Session) Version() string {
	if s.State() != StateReady {
		return ""
	}
	return s.version
}

// EnsureReady initializes the session on first call and waits for it.
// The attempt runs detached from ctx under its own deadline, so a caller
// that gives up neither aborts it nor holds up other callers; ctx only
// bounds how long this caller waits. A failed attempt leaves the session
// uninitialized so a later call tries again; a ready session stays ready.
func (s *Session) EnsureReady(ctx context.Context) error {
	if s.State() == StateReady {
		return nil
	}

	s.mu.Lock()
	if s.State() == StateReady {
		s.mu.Unlock()
		return nil
	}
	a := s.attempt
	if a == nil {
		a = &initAttempt{done: make(chan struct{})}
		s.attempt = a
		s.state.Store(int32(StateInitializing))
		go s.initialize(context.WithoutCancel(ctx), a)
	}
	s.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// initialize runs one attempt and publishes its outcome.
func (s *Session) initialize(ctx context.Context, a *initAttempt) {
	defer close(a.done)

	ctx, cancel := context.WithTimeout(ctx, s.initTimeout)
	defer cancel()

	runner, version, err := s.bootstrap(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = nil

	if err != nil {
		a.err = fmt.Errorf("%w: %w", ErrInitFailed, err)
		s.state.Store(int32(StateUninitialized))
		s.logger.Error("codec initialization failed",
			slog.String("error", err.Error()),
		)
		return
	}

	s.runner = runner
	s.version = version
	s.state.Store(int32(StateReady))

	s.logger.Info("codec ready",
		slog.String("path", runner.Path()),
		slog.String("version", version),
	)
}

// bootstrap resolves the ffmpeg binary and probes it.
func (s *Session) bootstrap(ctx context.Context) (*Runner, string, error) {
	var (
		path string
		err  error
	)
	if s.source != nil {
		path, err = s.install(ctx)
	} else {
		path, err = exec.LookPath(s.ffmpegPath)
	}
	if err != nil {
		return nil, "", err
	}

	runner := NewRunner(path)
	version, err := runner.Version(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("probe %s: %w", path, err)
	}
	return runner, version, nil
}

// install fetches the binary from the configured source into the workspace.
func (s *Session) install(ctx context.Context) (string, error) {
	binDir := filepath.Join(s.ws.Root(), "bin")
	if err := os.MkdirAll(binDir, 0750); err != nil {
		return "", fmt.Errorf("create bin directory: %w", err)
	}

	s.logger.Info("fetching codec binary",
		slog.String("source", s.source.String()),
	)

	f, err := os.CreateTemp(binDir, "ffmpeg-*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := f.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := s.source.Fetch(ctx, f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("fetch codec from %s: %w", s.source, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close codec binary: %w", err)
	}

	// #nosec G302 - the binary must be executable
	if err := os.Chmod(tmpName, 0750); err != nil {
		return "", fmt.Errorf("chmod codec binary: %w", err)
	}

	dst := filepath.Join(binDir, "ffmpeg")
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("install codec binary: %w", err)
	}
	return dst, nil
}

// Thumbnail renders in into JPEG bytes of exactly in.Width x in.Height.
// The invocation's workspace artifacts are removed before it returns,
// whether or not the transcode succeeded.
func (s *Session) Thumbnail(ctx context.Context, in Input) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "codec.Thumbnail", trace.WithAttributes(
		attribute.String("codec.kind", in.Kind.String()),
		attribute.Int("codec.width", in.Width),
		attribute.Int("codec.height", in.Height),
		attribute.Int("codec.input_bytes", len(in.Data)),
	))
	defer span.End()

	out, err := s.thumbnail(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (s *Session) thumbnail(ctx context.Context, in Input) ([]byte, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return nil, err
	}

	scope, err := s.ws.Acquire(ctx, InputExt(in.Filename, in.Data))
	if err != nil {
		return nil, fmt.Errorf("acquire workspace: %w", err)
	}
	defer func() {
		if err := scope.Release(); err != nil {
			s.logger.Warn("failed to release workspace scope",
				slog.String("scope", scope.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := scope.WriteInput(ctx, bytes.NewReader(in.Data)); err != nil {
		return nil, err
	}

	args, err := ThumbnailArgs(in.Kind, scope.InputPath, scope.OutputPath, in.Width, in.Height, s.quality)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("running codec",
		slog.String("scope", scope.ID),
		slog.String("kind", in.Kind.String()),
		slog.Int("width", in.Width),
		slog.Int("height", in.Height),
	)

	if err := s.runner.Run(ctx, args); err != nil {
		return nil, err
	}

	data, err := scope.ReadOutput(ctx)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil, ErrEmptyOutput
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// InputExt picks the extension of the input artifact: the upload's own
// extension when usable, else the one sniffed from its content, else "bin".
func InputExt(filename string, data []byte) string {
	if ext := workspace.SanitizeExt(filepath.Ext(filename)); ext != workspace.DefaultInputExt {
		return ext
	}
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return workspace.SanitizeExt(kind.Extension)
	}
	return workspace.DefaultInputExt
}
