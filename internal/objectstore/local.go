package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// Local keeps objects under a directory and serves them itself.
type Local struct {
	root    string
	baseURL string
}

// NewLocal creates the root directory if needed. baseURL is the public URL
// the Handler is mounted at, e.g. "http://localhost:8080/files".
func NewLocal(root, baseURL string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: creating %s: %w", root, err)
	}
	return &Local{root: root, baseURL: baseURL}, nil
}

// Upload writes to a temp file in the destination directory and renames it
// into place, so readers never see a half-written image.
func (l *Local) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	cleaned, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := filepath.Join(l.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("objectstore: creating directory for %s: %w", cleaned, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("objectstore: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("objectstore: writing %s: %w", cleaned, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("objectstore: closing %s: %w", cleaned, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("objectstore: storing %s: %w", cleaned, err)
	}
	return nil
}

func (l *Local) URL(objectPath string) (string, error) {
	cleaned, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return joinURL(l.baseURL, cleaned), nil
}

// Handler serves stored objects. Mount it with the prefix stripped.
//
// Only image extensions are served with their image type. Anything else is
// sent as an opaque download, so a stray file under root is never rendered
// by the browser on this origin.
func (l *Local) Handler() http.Handler {
	files := http.FileServer(http.Dir(l.root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		if ct, ok := imageTypeByExt(path.Ext(r.URL.Path)); ok {
			h.Set("Content-Type", ct)
		} else {
			h.Set("Content-Type", "application/octet-stream")
			h.Set("Content-Disposition", "attachment")
		}
		files.ServeHTTP(w, r)
	})
}
