package image

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Smallest valid PNG: 8-byte signature plus a truncated header. Enough
// for http.DetectContentType to call it image/png.
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}

func TestFetchDataURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/specimen.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		case "/untyped":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngBytes)
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>not an image</body></html>"))
		case "/missing":
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), nil)
	ctx := context.Background()

	t.Run("encodes image as data uri", func(t *testing.T) {
		uri, err := f.FetchDataURI(ctx, srv.URL+"/specimen.png")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/png;base64,"))
		require.NoError(t, err)
		assert.Equal(t, pngBytes, raw)
	})

	t.Run("sniffs type when header is generic", func(t *testing.T) {
		uri, err := f.FetchDataURI(ctx, srv.URL+"/untyped")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
	})

	t.Run("rejects non-image content", func(t *testing.T) {
		_, err := f.FetchDataURI(ctx, srv.URL+"/page.html")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an image")
	})

	t.Run("rejects non-200", func(t *testing.T) {
		_, err := f.FetchDataURI(ctx, srv.URL+"/missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})

	t.Run("data uri passes through", func(t *testing.T) {
		in := "data:image/jpeg;base64,abcd"
		out, err := f.FetchDataURI(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}
