package codec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/thumbnail-api/internal/workspace"
)

// fakeJPEG is what the fake codec writes as its output artifact.
var fakeJPEG = []byte{0xff, 0xd8, 'f', 'a', 'k', 'e'}

const (
	// fakeOK records its arguments and writes fakeJPEG to the last argument.
	fakeOK = `eval "last=\${$#}"
echo "$@" > "$dir/args.txt"
printf '\377\330fake' > "$last"
`
	// fakeFail behaves like ffmpeg rejecting a corrupt input.
	fakeFail = `echo "input.png: Invalid data found when processing input" >&2
exit 1
`
	// fakeEmpty exits cleanly without writing any output.
	fakeEmpty = `exit 0
`
)

// writeFakeFFmpeg installs a shell script standing in for ffmpeg.
// "-version" calls are counted in version_calls next to the script.
func writeFakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\n" +
		"dir=\"$(dirname \"$0\")\"\n" +
		"if [ \"$1\" = \"-version\" ]; then\n" +
		"  echo x >> \"$dir/version_calls\"\n" +
		"  echo \"ffmpeg version 7.1-fake\"\n" +
		"  exit 0\n" +
		"fi\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0700))
	return path
}

func versionCalls(t *testing.T, ffmpegPath string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(ffmpegPath), "version_calls"))
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "x")
}

func newTestSession(t *testing.T, opts ...SessionOption) (*Session, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.New(filepath.Join(t.TempDir(), "workspace"))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	opts = append([]SessionOption{WithLogger(logger)}, opts...)
	return NewSession(ws, opts...), ws
}

func assertNoPendingScopes(t *testing.T, ws *workspace.Workspace) {
	t.Helper()
	pending, err := ws.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending, "workspace artifacts leaked")
}

func TestSession_EnsureReady_Once(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, fakeOK)
	s, _ := newTestSession(t, WithFFmpegPath(ffmpeg))

	assert.Equal(t, StateUninitialized, s.State())
	assert.Empty(t, s.Version())

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.EnsureReady(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, "ffmpeg version 7.1-fake", s.Version())
	assert.Equal(t, 1, versionCalls(t, ffmpeg))

	require.NoError(t, s.EnsureReady(context.Background()))
	assert.Equal(t, 1, versionCalls(t, ffmpeg))
}

func TestSession_EnsureReady_Failure(t *testing.T) {
	s, _ := newTestSession(t, WithFFmpegPath(filepath.Join(t.TempDir(), "missing-ffmpeg")))

	err := s.EnsureReady(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitFailed)
	assert.Equal(t, StateUninitialized, s.State())

	// A failed attempt is retried on the next call rather than cached.
	err = s.EnsureReady(context.Background())
	assert.ErrorIs(t, err, ErrInitFailed)
}

func TestSession_Thumbnail(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, fakeOK)
	s, ws := newTestSession(t, WithFFmpegPath(ffmpeg), WithQuality(3))
	ctx := context.Background()
	argsFile := filepath.Join(filepath.Dir(ffmpeg), "args.txt")

	t.Run("image", func(t *testing.T) {
		out, err := s.Thumbnail(ctx, Input{
			Filename: "photo.png",
			Data:     []byte("png bytes"),
			Kind:     KindImage,
			Width:    180,
			Height:   180,
		})
		require.NoError(t, err)
		assert.Equal(t, fakeJPEG, out)

		args, err := os.ReadFile(argsFile)
		require.NoError(t, err)
		assert.NotContains(t, string(args), "-ss")
		assert.Contains(t, string(args), "input.png")
		assert.Contains(t, string(args), ScalePadFilter(180, 180))
		assert.Contains(t, string(args), "-q:v 3")
		assertNoPendingScopes(t, ws)
	})

	t.Run("video", func(t *testing.T) {
		out, err := s.Thumbnail(ctx, Input{
			Filename: "clip.mp4",
			Data:     []byte("mp4 bytes"),
			Kind:     KindVideo,
			Width:    320,
			Height:   240,
		})
		require.NoError(t, err)
		assert.Equal(t, fakeJPEG, out)

		args, err := os.ReadFile(argsFile)
		require.NoError(t, err)
		assert.Contains(t, string(args), "-ss 1 -i")
		assert.Contains(t, string(args), "-frames:v 1")
		assert.Contains(t, string(args), ScalePadFilter(320, 240))
		assertNoPendingScopes(t, ws)
	})

	t.Run("sequential requests do not share artifacts", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := s.Thumbnail(ctx, Input{Filename: "a.gif", Data: []byte("gif"), Width: 10, Height: 10})
			require.NoError(t, err)
			assertNoPendingScopes(t, ws)
		}
	})

	t.Run("invalid dimensions still release the scope", func(t *testing.T) {
		_, err := s.Thumbnail(ctx, Input{Filename: "a.png", Data: []byte("png"), Width: 0, Height: 10})
		assert.ErrorIs(t, err, ErrInvalidDimensions)
		assertNoPendingScopes(t, ws)
	})
}

func TestSession_Thumbnail_CodecFailure(t *testing.T) {
	s, ws := newTestSession(t, WithFFmpegPath(writeFakeFFmpeg(t, fakeFail)))

	_, err := s.Thumbnail(context.Background(), Input{
		Filename: "broken.png",
		Data:     []byte("not a png"),
		Kind:     KindImage,
		Width:    180,
		Height:   180,
	})
	require.Error(t, err)

	var ffErr *FFmpegError
	require.True(t, errors.As(err, &ffErr), "expected FFmpegError, got %T", err)
	assert.Contains(t, ffErr.Stderr, "Invalid data found")
	assertNoPendingScopes(t, ws)
}

func TestSession_Thumbnail_EmptyOutput(t *testing.T) {
	s, ws := newTestSession(t, WithFFmpegPath(writeFakeFFmpeg(t, fakeEmpty)))

	_, err := s.Thumbnail(context.Background(), Input{
		Filename: "short.mp4",
		Data:     []byte("mp4"),
		Kind:     KindVideo,
		Width:    180,
		Height:   180,
	})
	assert.ErrorIs(t, err, ErrEmptyOutput)
	assertNoPendingScopes(t, ws)
}

func TestSession_Thumbnail_InitFailure(t *testing.T) {
	s, ws := newTestSession(t, WithFFmpegPath(filepath.Join(t.TempDir(), "nope")))

	_, err := s.Thumbnail(context.Background(), Input{Filename: "a.png", Data: []byte("x"), Width: 1, Height: 1})
	assert.ErrorIs(t, err, ErrInitFailed)
	assertNoPendingScopes(t, ws)
}

func TestSession_InstallFromSource(t *testing.T) {
	script, err := os.ReadFile(writeFakeFFmpeg(t, fakeOK))
	require.NoError(t, err)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(script)
	}))
	defer server.Close()

	s, ws := newTestSession(t, WithSource(NewHTTPSource(server.URL+"/ffmpeg", server.Client())))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := s.Thumbnail(ctx, Input{Filename: "a.jpg", Data: []byte("jpg"), Width: 64, Height: 64})
		require.NoError(t, err)
		assert.Equal(t, fakeJPEG, out)
	}

	assert.Equal(t, int32(1), hits.Load(), "codec binary should be fetched once")
	info, err := os.Stat(filepath.Join(ws.Root(), "bin", "ffmpeg"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "installed binary must be executable")
	assertNoPendingScopes(t, ws)
}

func TestSession_InstallFromSource_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s, _ := newTestSession(t, WithSource(NewHTTPSource(server.URL, server.Client())))

	err := s.EnsureReady(context.Background())
	assert.ErrorIs(t, err, ErrInitFailed)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, StateUninitialized, s.State())
}

// slowSource serves a binary after a delay, honouring only its own ctx.
type slowSource struct {
	binary []byte
	delay  time.Duration
	calls  atomic.Int32
}

func (s *slowSource) Fetch(ctx context.Context, w io.Writer) error {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	_, err := w.Write(s.binary)
	return err
}

func (s *slowSource) String() string { return "slow" }

func newSlowSource(t *testing.T, delay time.Duration) *slowSource {
	t.Helper()
	script, err := os.ReadFile(writeFakeFFmpeg(t, fakeOK))
	require.NoError(t, err)
	return &slowSource{binary: script, delay: delay}
}

func TestSession_EnsureReady_OutlivesCallerDeadline(t *testing.T) {
	src := newSlowSource(t, 300*time.Millisecond)
	s, _ := newTestSession(t, WithSource(src))

	// Several callers give up before the fetch completes.
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		err := s.EnsureReady(ctx)
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	// The single detached attempt still completes.
	assert.Eventually(t, func() bool { return s.State() == StateReady }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, s.EnsureReady(context.Background()))
	assert.Equal(t, int32(1), src.calls.Load(), "codec binary should be fetched once")
}

func TestSession_EnsureReady_WaiterCancellable(t *testing.T) {
	src := newSlowSource(t, 300*time.Millisecond)
	s, _ := newTestSession(t, WithSource(src))

	initErr := make(chan error, 1)
	go func() { initErr <- s.EnsureReady(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == StateInitializing }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	start := time.Now()
	err := s.EnsureReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "waiter must not block on the initializer")

	require.NoError(t, <-initErr)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestSession_EnsureReady_InitTimeout(t *testing.T) {
	src := newSlowSource(t, time.Second)
	s, _ := newTestSession(t, WithSource(src), WithInitTimeout(50*time.Millisecond))

	err := s.EnsureReady(context.Background())
	assert.ErrorIs(t, err, ErrInitFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateUninitialized, s.State())
}

func TestInputExt(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	tests := []struct {
		name     string
		filename string
		data     []byte
		want     string
	}{
		{"extension from filename", "holiday.JPEG", nil, "jpeg"},
		{"video extension", "clip.webm", nil, "webm"},
		{"sniffed when missing", "upload", png, "png"},
		{"sniffed when unusable", "weird.$$$", png, "png"},
		{"default", "upload", []byte("????"), "bin"},
		{"empty", "", nil, "bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InputExt(tt.filename, tt.data))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "ready", StateReady.String())
}

