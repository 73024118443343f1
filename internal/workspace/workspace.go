// Package workspace provides the codec's private file area.
//
// Every codec invocation acquires its own Scope: a uniquely named directory
// holding exactly one input artifact and one output artifact. Scopes are
// released by the caller (normally via defer), which removes the directory
// and everything in it, so concurrent invocations never see or delete each
// other's files.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/maauso/thumbnail-api/internal/id"
)

const (
	// OutputName is the file name of the encoded thumbnail inside a scope.
	OutputName = "thumbnail.jpg"
	// DefaultInputExt is used when no usable input extension is known.
	DefaultInputExt = "bin"

	scopePrefix = "scope"
)

// ErrScopeReleased is returned when a released scope is used.
var ErrScopeReleased = errors.New("workspace: scope already released")

var extPattern = regexp.MustCompile(`^[a-z0-9]{1,10}$`)

// Workspace is a directory on local disk in which codec artifacts are staged.
type Workspace struct {
	root string
}

// New creates a new Workspace rooted at dir.
// If dir is empty, a thumbnail-api directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func New(dir string) (*Workspace, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "thumbnail-api")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}

	return &Workspace{root: dir}, nil
}

// Root returns the workspace directory path.
func (w *Workspace) Root() string {
	return w.root
}

// Acquire creates a new uniquely named scope for one codec invocation.
// inputExt is sanitized; anything unusable falls back to DefaultInputExt.
func (w *Workspace) Acquire(ctx context.Context, inputExt string) (*Scope, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	scopeID := id.Generate(scopePrefix)
	dir := filepath.Join(w.root, scopeID)
	if err := os.Mkdir(dir, 0750); err != nil {
		return nil, fmt.Errorf("create scope directory: %w", err)
	}

	return &Scope{
		ID:         scopeID,
		dir:        dir,
		InputPath:  filepath.Join(dir, "input."+SanitizeExt(inputExt)),
		OutputPath: filepath.Join(dir, OutputName),
	}, nil
}

// Pending returns the IDs of scopes that have not been released yet.
func (w *Workspace) Pending() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("read workspace directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), scopePrefix+"-") {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// SanitizeExt normalizes a file extension (with or without the leading dot)
// to lowercase alphanumerics. It returns DefaultInputExt when nothing usable
// remains.
func SanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if !extPattern.MatchString(ext) {
		return DefaultInputExt
	}
	return ext
}

// Scope is the artifact area of a single codec invocation.
type Scope struct {
	// ID is the unique scope identifier, also its directory name.
	ID string
	// InputPath is where the uploaded payload is written.
	InputPath string
	// OutputPath is where the codec writes the thumbnail.
	OutputPath string

	dir      string
	released bool
}

// WriteInput writes data to the scope's input artifact.
func (s *Scope) WriteInput(ctx context.Context, data io.Reader) error {
	if s.released {
		return ErrScopeReleased
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.OpenFile(s.InputPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create input artifact: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write input artifact: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close input artifact: %w", err)
	}
	return nil
}

// ReadOutput reads the scope's output artifact.
func (s *Scope) ReadOutput(ctx context.Context) ([]byte, error) {
	if s.released {
		return nil, ErrScopeReleased
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	data, err := os.ReadFile(s.OutputPath) // #nosec G304 - path is built by Acquire
	if err != nil {
		return nil, fmt.Errorf("read output artifact: %w", err)
	}
	return data, nil
}

// Release removes the scope directory with both artifacts.
// It is safe to call more than once.
func (s *Scope) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	if err := os.RemoveAll(s.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove scope %s: %w", s.ID, err)
	}
	return nil
}
