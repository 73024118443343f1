package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// Static errors for ffmpeg invocations.
var (
	// ErrInvalidDimensions is returned when the target box is not positive.
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")
	// ErrInvalidQuality is returned when the JPEG quality is outside ffmpeg's qscale range.
	ErrInvalidQuality = errors.New("invalid quality: must be between 2 and 31")
)

// VideoSeek is the offset of the frame extracted from video inputs.
const VideoSeek = "1"

// Kind selects the extraction path for an input.
type Kind int

const (
	// KindImage scales and pads the input directly.
	KindImage Kind = iota
	// KindVideo seeks to VideoSeek and extracts a single frame first.
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "image"
}

// ScalePadFilter returns the filter that scales the input to fit inside
// w x h preserving aspect ratio and pads the rest with black.
func ScalePadFilter(w, h int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black", w, h, w, h)
}

// ThumbnailArgs builds the ffmpeg command line that renders src into a single
// baseline JPEG at dst of exactly w x h.
func ThumbnailArgs(kind Kind, src, dst string, w, h, quality int) ([]string, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, w, h)
	}
	if quality < 2 || quality > 31 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuality, quality)
	}

	args := []string{
		"-y",                 // Overwrite output file without asking
		"-loglevel", "error", // Keep stderr to actual failures
	}
	if kind == KindVideo {
		args = append(args, "-ss", VideoSeek) // Seek before opening the input
	}
	args = append(args,
		"-i", src, // Input file
		"-frames:v", "1", // Output single frame (image)
		"-vf", ScalePadFilter(w, h), // Scale and pad to the box
		"-c:v", "mjpeg", // Baseline JPEG encoder
		"-q:v", strconv.Itoa(quality), // JPEG quantizer, 2 is best
		"-f", "image2", // Single image muxer
		dst, // Output file
	)
	return args, nil
}

// Runner executes the ffmpeg binary.
type Runner struct {
	// ffmpegPath is the path to the ffmpeg binary.
	ffmpegPath string
}

// NewRunner creates a new Runner.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewRunner(ffmpegPath string) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Runner{ffmpegPath: ffmpegPath}
}

// Path returns the binary the runner executes.
func (r *Runner) Path() string {
	return r.ffmpegPath
}

// Version runs "ffmpeg -version" and returns the first line of its output.
func (r *Runner) Version(ctx context.Context) (string, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, r.ffmpegPath, "-version")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return "", &FFmpegError{Args: []string{"-version"}, Stderr: stderr.String(), Err: err}
	}

	line, _, _ := bytes.Cut(stdout.Bytes(), []byte("\n"))
	return string(bytes.TrimSpace(line)), nil
}

// Run executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (r *Runner) Run(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
