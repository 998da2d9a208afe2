package sitegen

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/sells-group/platter/pkg/render"
)

// Publisher makes a generated page reachable and returns its live URL.
type Publisher interface {
	Publish(ctx context.Context, slug, html string) (string, error)
}

// LocalPublisher writes pages to <dir>/<slug>/index.html and optionally
// pokes a deploy hook so the static host picks them up.
type LocalPublisher struct {
	dir     string
	baseURL string
	hook    render.Client
	log     *zap.Logger
}

// NewLocalPublisher creates a LocalPublisher. hook may be nil.
func NewLocalPublisher(dir, publicBaseURL string, hook render.Client) *LocalPublisher {
	return &LocalPublisher{
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		hook:    hook,
		log:     zap.L().With(zap.String("component", "sitegen.local")),
	}
}

// Publish implements Publisher. A failed deploy hook is logged, not returned:
// the page is already on disk and the next hook call will ship it.
func (p *LocalPublisher) Publish(ctx context.Context, slug, html string) (string, error) {
	if err := validSlug(slug); err != nil {
		return "", err
	}

	dir := filepath.Join(p.dir, slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "sitegen: create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return "", eris.Wrap(err, "sitegen: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := io.WriteString(tmp, html); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return "", eris.Wrap(err, "sitegen: write page")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return "", eris.Wrap(err, "sitegen: close page")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return "", eris.Wrap(err, "sitegen: chmod page")
	}
	if err := os.Rename(tmpName, filepath.Join(dir, "index.html")); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return "", eris.Wrap(err, "sitegen: rename page")
	}

	if p.hook != nil {
		if d, err := p.hook.TriggerDeploy(ctx); err != nil {
			p.log.Warn("deploy hook failed", zap.String("slug", slug), zap.Error(err))
		} else {
			p.log.Debug("deploy triggered", zap.String("slug", slug), zap.String("deploy_id", d.ID))
		}
	}

	return p.baseURL + "/" + url.PathEscape(slug) + "/", nil
}

// ObjectWriter opens a writer for one object in a bucket.
type ObjectWriter func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// GCSPublisher uploads pages to <bucket>/<slug>/index.html.
type GCSPublisher struct {
	bucket  string
	baseURL string
	open    ObjectWriter
	close   func() error
}

// NewGCSPublisher creates a GCSPublisher using application default
// credentials, or credsFile when set. publicBaseURL defaults to the bucket's
// storage.googleapis.com address.
func NewGCSPublisher(ctx context.Context, bucket, publicBaseURL, credsFile string) (*GCSPublisher, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "sitegen: create storage client")
	}

	open := func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.CacheControl = "public, max-age=300"
		return w
	}
	p := NewGCSPublisherWithWriter(bucket, publicBaseURL, open)
	p.close = client.Close
	return p, nil
}

// NewGCSPublisherWithWriter creates a GCSPublisher over a custom writer.
func NewGCSPublisherWithWriter(bucket, publicBaseURL string, open ObjectWriter) *GCSPublisher {
	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSPublisher{
		bucket:  bucket,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		open:    open,
	}
}

// Publish implements Publisher.
func (p *GCSPublisher) Publish(ctx context.Context, slug, html string) (string, error) {
	if err := validSlug(slug); err != nil {
		return "", err
	}
	object := slug + "/index.html"

	w := p.open(ctx, p.bucket, object, "text/html; charset=utf-8")
	if _, err := io.WriteString(w, html); err != nil {
		_ = w.Close()
		return "", eris.Wrapf(err, "sitegen: upload gs://%s/%s", p.bucket, object)
	}
	if err := w.Close(); err != nil {
		return "", eris.Wrapf(err, "sitegen: finalize gs://%s/%s", p.bucket, object)
	}
	return p.baseURL + "/" + url.PathEscape(slug) + "/index.html", nil
}

// Close releases the storage client, if any.
func (p *GCSPublisher) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

func validSlug(slug string) error {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return eris.Errorf("sitegen: invalid slug %q", slug)
	}
	return nil
}
