package sitegen

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/platter/pkg/render"
)

func TestLocalPublisher_WritesPage(t *testing.T) {
	dir := t.TempDir()
	p := NewLocalPublisher(dir, "https://sites.example.com/", nil)

	u, err := p.Publish(context.Background(), "blue-door-3d", "<html>1</html>")
	require.NoError(t, err)
	assert.Equal(t, "https://sites.example.com/blue-door-3d/", u)

	data, err := os.ReadFile(filepath.Join(dir, "blue-door-3d", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>1</html>", string(data))

	// Overwrite in place.
	_, err = p.Publish(context.Background(), "blue-door-3d", "<html>2</html>")
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, "blue-door-3d", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>2</html>", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "blue-door-3d"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalPublisher_RejectsBadSlug(t *testing.T) {
	p := NewLocalPublisher(t.TempDir(), "http://x", nil)
	for _, slug := range []string{"", "..", "a/b", `a\b`} {
		_, err := p.Publish(context.Background(), slug, "<html></html>")
		assert.Error(t, err, slug)
	}
}

func TestLocalPublisher_TriggersHook(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"deploy":{"id":"dep-1"}}`))
	}))
	defer srv.Close()

	p := NewLocalPublisher(t.TempDir(), "http://x", render.NewClient(srv.URL))
	_, err := p.Publish(context.Background(), "a", "<html></html>")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLocalPublisher_HookFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewLocalPublisher(t.TempDir(), "http://x", render.NewClient(srv.URL))
	u, err := p.Publish(context.Background(), "a", "<html></html>")
	require.NoError(t, err)
	assert.Equal(t, "http://x/a/", u)
}

type memObject struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (m *memObject) Close() error {
	m.closed = true
	return m.closeErr
}

func TestGCSPublisher(t *testing.T) {
	var gotBucket, gotObject, gotType string
	obj := &memObject{}
	p := NewGCSPublisherWithWriter("platter-sites", "", func(_ context.Context, bucket, object, contentType string) io.WriteCloser {
		gotBucket, gotObject, gotType = bucket, object, contentType
		return obj
	})

	u, err := p.Publish(context.Background(), "blue-door-classic", "<html></html>")
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/platter-sites/blue-door-classic/index.html", u)
	assert.Equal(t, "platter-sites", gotBucket)
	assert.Equal(t, "blue-door-classic/index.html", gotObject)
	assert.Equal(t, "text/html; charset=utf-8", gotType)
	assert.Equal(t, "<html></html>", obj.String())
	assert.True(t, obj.closed)
	assert.NoError(t, p.Close())
}

func TestGCSPublisher_CustomBaseAndCloseError(t *testing.T) {
	obj := &memObject{closeErr: errors.New("precondition failed")}
	p := NewGCSPublisherWithWriter("b", "https://cdn.example.com/", func(context.Context, string, string, string) io.WriteCloser {
		return obj
	})

	_, err := p.Publish(context.Background(), "x", "<html></html>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gs://b/x/index.html")

	obj.closeErr = nil
	u, err := p.Publish(context.Background(), "x", "<html></html>")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x/index.html", u)
}
