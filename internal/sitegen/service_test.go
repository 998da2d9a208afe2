package sitegen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/platter/internal/jsonstore"
	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/store"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []Variant
	err   map[Variant]error
}

func (f *fakeGenerator) Generate(_ context.Context, in Input, v Variant) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, v)
	if err := f.err[v]; err != nil {
		return "", err
	}
	return "<html>" + in.Name + " " + string(v) + "</html>", nil
}

type fakePublisher struct {
	pages map[string]string
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, slug, html string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.pages == nil {
		f.pages = map[string]string{}
	}
	f.pages[slug] = html
	return "https://sites.example.com/" + slug + "/", nil
}

func TestBuild_BothVariantsInOrder(t *testing.T) {
	gen := &fakeGenerator{}
	pub := &fakePublisher{}
	svc := NewService(gen, pub, nil, "")

	out, err := svc.Build(context.Background(), Input{Name: "Blue Door", Slug: "blue-door", Email: "hi@bluedoor.co"})
	require.NoError(t, err)

	assert.Equal(t, []Variant{Variant3D, VariantClassic}, gen.calls)
	assert.Equal(t, "<html>Blue Door 3d</html>", pub.pages["blue-door-3d"])
	assert.Equal(t, "<html>Blue Door classic</html>", pub.pages["blue-door-classic"])
	assert.Equal(t, "https://sites.example.com/blue-door-3d/", out.LiveURL3D)
	assert.Equal(t, "https://sites.example.com/blue-door-classic/", out.LiveURLClassic)
	assert.Equal(t, "Blue Door", out.BusinessName)

	require.NotNil(t, out.EmailDraft)
	assert.Contains(t, *out.EmailDraft, "Subject: We built you a free website - pick your favorite")
	assert.Contains(t, *out.EmailDraft, "Hi Blue Door,")
	assert.Contains(t, *out.EmailDraft, "Option A (Interactive 3D): https://sites.example.com/blue-door-3d/")
	assert.Contains(t, *out.EmailDraft, "Option B (Classic): https://sites.example.com/blue-door-classic/")
	assert.Contains(t, *out.EmailDraft, "- Platter")
}

func TestBuild_NoEmailNoDraft(t *testing.T) {
	svc := NewService(&fakeGenerator{}, &fakePublisher{}, nil, "Sam")
	out, err := svc.Build(context.Background(), Input{Name: "N", Slug: "n"})
	require.NoError(t, err)
	assert.Nil(t, out.EmailDraft)
}

func TestBuild_RequiresNameAndSlug(t *testing.T) {
	svc := NewService(&fakeGenerator{}, &fakePublisher{}, nil, "")
	_, err := svc.Build(context.Background(), Input{Name: "N"})
	assert.Error(t, err)
	_, err = svc.Build(context.Background(), Input{Slug: "n"})
	assert.Error(t, err)
}

func TestBuild_GenerationErrorStops(t *testing.T) {
	gen := &fakeGenerator{err: map[Variant]error{Variant3D: errors.New("quota")}}
	pub := &fakePublisher{}
	svc := NewService(gen, pub, nil, "")

	_, err := svc.Build(context.Background(), Input{Name: "N", Slug: "n"})
	require.Error(t, err)
	assert.Equal(t, []Variant{Variant3D}, gen.calls)
	assert.Empty(t, pub.pages)
}

func TestBuild_PublishError(t *testing.T) {
	svc := NewService(&fakeGenerator{}, &fakePublisher{err: errors.New("disk full")}, nil, "")
	_, err := svc.Build(context.Background(), Input{Name: "N", Slug: "n"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "n-3d")
}

func TestDeploy_RecordsSiteAndMarksDeployed(t *testing.T) {
	ctx := context.Background()
	st := store.NewJSON(jsonstore.New(t.TempDir()))
	email := "hi@bluedoor.co"
	saved, err := st.InsertBusiness(ctx, model.Record{ID: "b1", Name: "Blue Door", Address: "12 Valencia St", Email: &email})
	require.NoError(t, err)

	svc := NewService(&fakeGenerator{}, &fakePublisher{}, st, "")
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	out, err := svc.Deploy(ctx, *saved)
	require.NoError(t, err)
	require.NotNil(t, out.EmailDraft)

	sites, err := st.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "b1", sites[0].ID)
	assert.Equal(t, "blue-door", sites[0].Slug)
	assert.Equal(t, out.LiveURL3D, sites[0].LiveURL3D)
	assert.Equal(t, model.SiteStatusActive, sites[0].Status)
	assert.Equal(t, fixed, sites[0].GeneratedAt)
	require.NotNil(t, sites[0].Email)
	assert.Equal(t, email, *sites[0].Email)

	list, err := st.ListBusinesses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.StatusDeployed, list[0].Status)
	assert.Equal(t, out.LiveURL3D, list[0].LiveURL3D)
	assert.Equal(t, out.LiveURLClassic, list[0].LiveURLClassic)
}

func TestDeploy_UnknownRecord(t *testing.T) {
	st := store.NewJSON(jsonstore.New(t.TempDir()))
	svc := NewService(&fakeGenerator{}, &fakePublisher{}, st, "")

	out, err := svc.Deploy(context.Background(), model.Record{ID: "ghost", Name: "Ghost", Slug: "ghost"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	require.NotNil(t, out)
}
