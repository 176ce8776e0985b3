// Package objectstore stores uploaded images and hands out URLs for them.
//
// Three backends share one interface: a local directory served by this
// process, MinIO (or any S3-compatible service), and a plain FTP server
// fronted by a web server.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/xid"
)

// Store is an object store addressed by slash-separated paths.
type Store interface {
	// Upload writes size bytes from r to objectPath, replacing any object
	// already there.
	Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error
	// URL returns a URL a browser can fetch objectPath from.
	URL(objectPath string) (string, error)
}

var (
	_ Store = (*Local)(nil)
	_ Store = (*MinIO)(nil)
	_ Store = (*FTP)(nil)
)

// ErrInvalidPath is returned for paths that are absolute or escape the store.
var ErrInvalidPath = errors.New("objectstore: invalid object path")

// QuestionImagePath namespaces a question image by uploader. The xid prefix
// keeps two uploads of "photo.png" from replacing each other.
func QuestionImagePath(userID, fileName string) string {
	return path.Join("question-images", userID, xid.New().String()+"-"+safeName(fileName))
}

// ProfileImagePath returns a fresh, versioned path for a profile picture.
// Every save gets its own object, so the URL stored before a save keeps
// working if the save is rolled back.
func ProfileImagePath(userID, fileName string) string {
	return path.Join("profile-pictures", userID, xid.New().String()+strings.ToLower(path.Ext(safeName(fileName))))
}

// imageExtensions lists the image types accepted for upload and the
// extension each is stored under.
var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ImageExtension returns the stored extension for an accepted image type.
func ImageExtension(contentType string) (string, bool) {
	ext, ok := imageExtensions[contentType]
	return ext, ok
}

// imageTypeByExt is the reverse of imageExtensions, plus ".jpeg".
func imageTypeByExt(ext string) (string, bool) {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png", true
	case ".jpg", ".jpeg":
		return "image/jpeg", true
	case ".gif":
		return "image/gif", true
	case ".webp":
		return "image/webp", true
	}
	return "", false
}

// safeName reduces a client-supplied file name to a single harmless segment.
func safeName(fileName string) string {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "upload"
	}
	return name
}

// cleanPath validates objectPath and returns its canonical form.
func cleanPath(objectPath string) (string, error) {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	cleaned := path.Clean(objectPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return cleaned, nil
}

func joinURL(base, objectPath string) string {
	return strings.TrimRight(base, "/") + "/" + objectPath
}
