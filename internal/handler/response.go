package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and writeError, so every error
// response from the API has the same shape:
//
//	{"error": "not_found", "message": "question not found with id abc123"}
//
// Validation errors also carry the offending form field:
//
//	{"error": "validation_error", "message": "enter your name", "field": "name"}

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/objectstore"
	"github.com/sakif/qanda/internal/service"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// maxJSONBody caps JSON request bodies. Answers and passwords are short.
const maxJSONBody = 64 << 10

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS: headers, then status, then body. Once the body
// starts, header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status code and sends it.
//
// ErrPartial and ErrRemote are checked first: both join a cause into the
// chain, and that cause may itself match one of the sentinels further down.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrPartial):
			errorType = "partial_failure"
		case errors.Is(err, apperror.ErrRemote):
			errorType = "remote_error"
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrInvalidCredential):
			status = http.StatusUnauthorized
			errorType = "invalid_credential"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	// Unknown error: never expose internals (SQL, paths) to the client.
	slog.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}

// parseMultipart parses a multipart/form-data body of at most maxBytes.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperror.ValidationFailed("image", fmt.Sprintf("uploads are limited to %d MB", maxBytes>>20))
		}
		return apperror.ValidationFailed("body", "invalid form data")
	}
	return nil
}

// formImage returns the optional "image" file of a parsed multipart form.
// A missing file is not an error; a file that isn't an image is.
//
// The client's Content-Type and file extension are ignored: the type comes
// from the file's first bytes, and the stored name gets the extension of
// that type.
func formImage(r *http.Request) (*service.Image, func(), error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, apperror.ValidationFailed("image", "invalid image upload")
	}

	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	contentType := http.DetectContentType(head[:n])
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, func() {}, fmt.Errorf("handler: rewinding upload: %w", err)
	}

	ext, ok := objectstore.ImageExtension(contentType)
	if !ok {
		file.Close()
		return nil, func() {}, apperror.ValidationFailed("image", "only PNG, JPEG, GIF or WebP images can be uploaded")
	}

	img := &service.Image{
		Name:        imageName(header.Filename, ext),
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	}
	return img, func() { file.Close() }, nil
}

// imageName swaps the client's extension for ext.
func imageName(fileName, ext string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		stem = "image"
	}
	return stem + ext
}
