package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPConfig configures the FTP backend.
type FTPConfig struct {
	Addr     string // host:port
	User     string
	Password string
	// BaseURL is where the web server in front of the FTP root serves files.
	BaseURL string
	Timeout time.Duration
}

// FTP uploads over a fresh connection per object. Uploads are rare and a
// pooled control connection would need keep-alives to survive idle periods.
type FTP struct {
	cfg FTPConfig
}

func NewFTP(cfg FTPConfig) *FTP {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &FTP{cfg: cfg}
}

func (f *FTP) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	cleaned, err := cleanPath(objectPath)
	if err != nil {
		return err
	}

	conn, err := ftp.Dial(f.cfg.Addr,
		ftp.DialWithTimeout(f.cfg.Timeout),
		ftp.DialWithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("objectstore: connecting to FTP: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
		return fmt.Errorf("objectstore: logging in to FTP: %w", err)
	}

	// MKD fails for directories that already exist; the Stor below reports
	// the directory problems that matter.
	dir := path.Dir(cleaned)
	parts := strings.Split(dir, "/")
	for i := range parts {
		_ = conn.MakeDir(strings.Join(parts[:i+1], "/"))
	}

	if err := conn.Stor(cleaned, r); err != nil {
		return fmt.Errorf("objectstore: uploading %s: %w", cleaned, err)
	}
	return nil
}

func (f *FTP) URL(objectPath string) (string, error) {
	cleaned, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return joinURL(f.cfg.BaseURL, cleaned), nil
}
