package handler_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var (
	alice = &model.Principal{ID: "uid-a", Email: "a@x.com", DisplayName: "Alice"}
	bob   = &model.Principal{ID: "uid-b", Email: "b@x.com", DisplayName: "Bob"}
)

// asUser attaches p to the request the way auth.OptionalAuth would.
func asUser(r *http.Request, p *model.Principal) *http.Request {
	if p == nil {
		return r
	}
	return r.WithContext(auth.WithPrincipal(r.Context(), p))
}

type formFile struct {
	field, name, contentType string
	data                     []byte
}

// multipartRequest builds a multipart/form-data request.
func multipartRequest(t *testing.T, method, target string, fields map[string]string, file *formFile) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+file.field+`"; filename="`+file.name+`"`)
		h.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// pngBytes is a 1x1 PNG header, enough for content sniffing.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// stubResolver authenticates one fixed token.
type stubResolver struct {
	token string
	p     *model.Principal
}

func (s stubResolver) Authenticate(_ context.Context, token string) (*model.Principal, error) {
	if token == s.token {
		return s.p, nil
	}
	return nil, auth.ErrNoToken
}
