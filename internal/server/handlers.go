package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maauso/thumbnail-api/internal/codec"
	"github.com/maauso/thumbnail-api/internal/thumbnail"
)

const (
	defaultDimension      = 180
	defaultMaxUploadBytes = 100 << 20
	// multipartMemory is the part of a form kept in memory before spilling to disk.
	multipartMemory = 32 << 20
)

// Generator produces thumbnails. *thumbnail.Service is the production implementation.
type Generator interface {
	Generate(ctx context.Context, req thumbnail.Request) (*thumbnail.Result, error)
}

// CodecStatus reports the codec session state for health checks.
type CodecStatus interface {
	State() codec.State
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	generator      Generator
	codec          CodecStatus
	logger         *slog.Logger
	defaultWidth   int
	defaultHeight  int
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithDefaultDimensions sets the box used when width or height is not given.
func WithDefaultDimensions(width, height int) HandlerOption {
	return func(h *Handlers) {
		if width > 0 {
			h.defaultWidth = width
		}
		if height > 0 {
			h.defaultHeight = height
		}
	}
}

// WithMaxUploadBytes caps the request body size.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithCodecStatus reports cs in the health response.
func WithCodecStatus(cs CodecStatus) HandlerOption {
	return func(h *Handlers) {
		h.codec = cs
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(generator Generator, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		generator:      generator,
		logger:         logger,
		defaultWidth:   defaultDimension,
		defaultHeight:  defaultDimension,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.codec != nil {
		resp.Codec = h.codec.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Thumbnail handles every request to the server root.
// OPTIONS answers the CORS preflight, POST renders a thumbnail from the
// multipart "file" field, anything else is rejected.
func (h *Handlers) Thumbnail(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		writePreflight(w)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{
			Error: "Method not allowed",
			Code:  "METHOD_NOT_ALLOWED",
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.logger.Warn("failed to parse multipart form",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: "Invalid multipart form",
			Code:  "INVALID_FORM",
		})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req, err := h.readRequest(r)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, ErrorResponse{
				Error: "No file provided",
				Code:  "NO_FILE",
			})
			return
		}
		h.logger.Warn("failed to read uploaded file",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: "Invalid multipart form",
			Code:  "INVALID_FORM",
		})
		return
	}

	res, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		h.writeGenerateError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", res.Filename()))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.JPEG)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.JPEG); err != nil {
		h.logger.Warn("failed to write thumbnail",
			slog.String("error", err.Error()),
		)
	}
}

// readRequest extracts the thumbnail request from a parsed multipart form.
func (h *Handlers) readRequest(r *http.Request) (thumbnail.Request, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return thumbnail.Request{}, err
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return thumbnail.Request{}, fmt.Errorf("read file: %w", err)
	}

	return thumbnail.Request{
		Filename: header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
		Width:    thumbnail.ResolveDimension(r.FormValue("width"), h.defaultWidth),
		Height:   thumbnail.ResolveDimension(r.FormValue("height"), h.defaultHeight),
	}, nil
}

// writeGenerateError maps a Generate error to its HTTP response.
func (h *Handlers) writeGenerateError(w http.ResponseWriter, err error) {
	var procErr *thumbnail.ProcessingError
	switch {
	case errors.Is(err, thumbnail.ErrNoFile):
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: "No file provided",
			Code:  "NO_FILE",
		})
	case errors.Is(err, thumbnail.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:          "Unsupported file type",
			SupportedTypes: thumbnail.SupportedTypes(),
			Code:           "UNSUPPORTED_TYPE",
		})
	case errors.Is(err, thumbnail.ErrInvalidDimensions):
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid dimensions",
			Details: fmt.Sprintf("width and height must be between 1 and %d", thumbnail.MaxDimension),
			Code:    "INVALID_DIMENSIONS",
		})
	case errors.As(err, &procErr):
		writeError(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to generate thumbnail",
			Details: procErr.Err.Error(),
			Code:    "THUMBNAIL_FAILED",
		})
	default:
		h.logger.Error("unexpected thumbnail error",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to generate thumbnail",
			Details: err.Error(),
			Code:    "THUMBNAIL_FAILED",
		})
	}
}

// writePreflight answers a CORS preflight with an empty 200.
func writePreflight(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusOK)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, status, resp)
}
