package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/platter/internal/assets"
	"github.com/sells-group/platter/internal/jsonstore"
	"github.com/sells-group/platter/internal/metrics"
	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/resilience"
	"github.com/sells-group/platter/internal/session"
	"github.com/sells-group/platter/internal/sitegen"
	"github.com/sells-group/platter/internal/store"
	"github.com/sells-group/platter/pkg/google"
	"github.com/sells-group/platter/pkg/google/mocks"
)

type fakeResearch struct {
	createErr error
	pollErr   error
	result    *model.Enrichment
	creates   atomic.Int32
}

func (f *fakeResearch) CreateTask(_ context.Context, name, _ string) (string, error) {
	f.creates.Add(1)
	if f.createErr != nil {
		return "", f.createErr
	}
	return "task-" + name, nil
}

func (f *fakeResearch) PollTask(_ context.Context, _ string) (*model.Enrichment, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if f.result == nil {
		return &model.Enrichment{}, nil
	}
	e := *f.result
	return &e, nil
}

type fakeDeployer struct {
	mu    sync.Mutex
	err   error
	panic bool
	seen  []model.Record
}

func (f *fakeDeployer) Deploy(_ context.Context, rec model.Record) (*sitegen.Output, error) {
	f.mu.Lock()
	f.seen = append(f.seen, rec)
	f.mu.Unlock()
	if f.panic {
		panic("generator exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	draft := "draft for " + rec.Name
	return &sitegen.Output{
		BusinessName:   rec.Name,
		LiveURL3D:      "https://sites.test/" + rec.Slug + "-3d/",
		LiveURLClassic: "https://sites.test/" + rec.Slug + "-classic/",
		EmailDraft:     &draft,
	}, nil
}

type fakeAssets struct {
	keywords []string
	mu       sync.Mutex
}

func (f *fakeAssets) FindModel(_ context.Context, keyword string) *assets.Model {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keywords = append(f.keywords, keyword)
	return &assets.Model{AssetID: "Barrel_01", URL: "https://dl.test/barrel.gltf", Format: "gltf"}
}

type recordingObserver struct {
	mu       sync.Mutex
	finished []*session.Session
}

func (o *recordingObserver) SessionFinished(s *session.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, s)
}

func (o *recordingObserver) snapshot() []*session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*session.Session(nil), o.finished...)
}

type harness struct {
	svc      *Service
	places   *mocks.MockClient
	research *fakeResearch
	sites    *fakeDeployer
	assets   *fakeAssets
	store    *store.JSONStore
	sessions *session.MemoryRegistry
	metrics  *metrics.Metrics
	observer *recordingObserver
}

func newHarness(t *testing.T, concurrency int) *harness {
	t.Helper()
	h := &harness{
		places:   mocks.NewMockClient(t),
		research: &fakeResearch{},
		sites:    &fakeDeployer{},
		assets:   &fakeAssets{},
		store:    store.NewJSON(jsonstore.New(t.TempDir())),
		sessions: session.NewMemoryRegistry(0, 0, 0),
		metrics:  metrics.New(),
		observer: &recordingObserver{},
	}
	t.Cleanup(func() { _ = h.sessions.Close() })

	h.start(t, h.store, concurrency)
	return h
}

// start builds the service under test on top of st.
func (h *harness) start(t *testing.T, st store.Store, concurrency int) {
	t.Helper()
	svc := NewService(Deps{
		Places:   h.places,
		Research: h.research,
		Assets:   h.assets,
		Sites:    h.sites,
		Store:    st,
		Sessions: h.sessions,
		Metrics:  h.metrics,
		Observer: h.observer,
	}, Config{
		Concurrency:        concurrency,
		DefaultRadiusMiles: 20,
		Retry:              resilience.RetryConfig{MaxAttempts: 1},
	})
	h.svc = svc
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
}

// brokenInsertStore fails every insert and serves everything else from disk.
type brokenInsertStore struct {
	*store.JSONStore
}

func (brokenInsertStore) InsertBusiness(_ context.Context, _ model.Record) (*model.Record, error) {
	return nil, errors.New("write businesses.json: no space left on device")
}

func (h *harness) search(places ...google.Place) {
	h.places.On("TextSearch", mock.Anything, mock.Anything, mock.Anything).
		Return(&google.TextSearchResponse{Places: places}, nil).Maybe()
}

func (h *harness) details(id, name, website string) google.Place {
	h.places.On("GetDetails", mock.Anything, id).Return(&google.PlaceDetails{
		ID:                  id,
		DisplayName:         google.DisplayName{Text: name},
		FormattedAddress:    fmt.Sprintf("%s Main St, San Francisco, CA", id),
		NationalPhoneNumber: "(415) 555-0100",
		WebsiteURI:          website,
		UserRatingCount:     12,
		EditorialSummary:    &google.LocalText{Text: name + " is a neighborhood favorite."},
	}, nil).Maybe()
	return google.Place{ID: id, DisplayName: google.DisplayName{Text: name}}
}

func (h *harness) run(t *testing.T, q string) *session.Session {
	t.Helper()
	id, err := h.svc.Start(context.Background(), q)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := h.svc.Wait(ctx, id, 5*time.Millisecond)
	require.NoError(t, err)
	return sess
}

func TestStart_InvalidQuery(t *testing.T) {
	h := newHarness(t, 1)

	for _, q := range []string{"", "   ", "\t\n"} {
		id, err := h.svc.Start(context.Background(), q)
		assert.ErrorIs(t, err, ErrInvalidQuery)
		assert.Empty(t, id)
	}
	assert.Equal(t, 0, h.sessions.Len())
}

func TestRun_AllPlacesHaveWebsites(t *testing.T) {
	h := newHarness(t, 1)
	h.search(
		h.details("p1", "Has Site One", "https://one.test"),
		h.details("p2", "Has Site Two", "https://two.test"),
	)

	sess := h.run(t, "nail salons in San Francisco")

	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 0, sess.Total)
	assert.Equal(t, 0, sess.Completed)
	assert.Empty(t, sess.Businesses)
	assert.Equal(t, int32(0), h.research.creates.Load())

	results, err := h.svc.Results(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRun_ResearchCreateFailureStillCompletes(t *testing.T) {
	h := newHarness(t, 1)
	h.research.createErr = errors.New("quota exceeded")
	h.search(h.details("p1", "Luxe Nails", ""))

	sess := h.run(t, "nail salons in San Francisco")

	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 1, sess.Total)
	assert.Equal(t, 1, sess.Completed)
	assert.Empty(t, sess.Businesses)

	recs, err := h.store.ListBusinesses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, h.sites.seen)
}

func TestRun_DeploysCandidates(t *testing.T) {
	h := newHarness(t, 1)
	email := "hello@luxenails.test"
	keyword := "nail polish"
	h.research.result = &model.Enrichment{
		Email:            &email,
		Description:      "Gel manicures in the Mission.",
		SocialMediaLinks: []string{"https://instagram.com/luxenails", "https://example.com/x"},
		ModelKeyword:     &keyword,
	}
	h.search(
		h.details("p1", "Luxe Nails", ""),
		h.details("p2", "Chain Salon", "https://chain.test"),
	)

	sess := h.run(t, "nail salons in San Francisco")

	require.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 1, sess.Total)
	assert.Equal(t, 1, sess.Completed)
	require.Len(t, sess.Businesses, 1)

	card := sess.Businesses[0]
	assert.Equal(t, "Luxe Nails", card.Name)
	assert.Equal(t, model.StatusDeployed, card.Status)
	assert.Equal(t, "luxe-nails", card.Slug)
	assert.Equal(t, "https://sites.test/luxe-nails-3d/", card.LiveURL)
	assert.Equal(t, "https://sites.test/luxe-nails-classic/", card.LiveURLClassic)
	require.NotNil(t, card.EmailDraft)
	assert.False(t, card.HasWebsite)
	assert.Equal(t, "Gel manicures in the Mission.", card.Description)
	require.NotNil(t, card.Phone)
	assert.Equal(t, "(415) 555-0100", *card.Phone)
	assert.Equal(t, []string{"https://instagram.com/luxenails"}, card.SocialMediaLinks)
	require.NotNil(t, card.ModelURL)
	assert.Equal(t, "https://dl.test/barrel.gltf", *card.ModelURL)
	assert.Equal(t, []string{"nail polish"}, h.assets.keywords)

	recs, err := h.store.ListBusinesses(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, card.ID, recs[0].ID)

	for i := 1; i < len(sess.Logs); i++ {
		assert.True(t, sess.Logs[i].Time.After(sess.Logs[i-1].Time), "log %d not after %d", i, i-1)
	}
	assert.Equal(t, 1.0, counterValue(t, h.metrics, metrics.OutcomeDeployed))
}

func TestRun_SearchAppliesDefaultRadius(t *testing.T) {
	h := newHarness(t, 1)
	h.places.On("TextSearch", mock.Anything, "bakeries in Oakland within 20 miles", mock.Anything).
		Return(&google.TextSearchResponse{}, nil).Once()

	sess := h.run(t, "bakeries in Oakland")
	assert.Equal(t, session.StatusCompleted, sess.Status)
}

func TestRun_SearchFailureFailsSession(t *testing.T) {
	h := newHarness(t, 1)
	h.places.On("TextSearch", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, google.ErrRequestDenied)

	sess := h.run(t, "nail salons")

	assert.Equal(t, session.StatusFailed, sess.Status)
	require.NotEmpty(t, sess.Logs)
	assert.Contains(t, sess.Logs[len(sess.Logs)-1].Message, "Search failed")
}

func TestRun_LaterSearchPageFailureKeepsEarlierResults(t *testing.T) {
	h := newHarness(t, 1)
	first := h.details("p1", "Luxe Nails", "")
	h.places.On("TextSearch", mock.Anything, mock.Anything, mock.MatchedBy(func(o google.SearchOptions) bool {
		return o.PageToken == ""
	})).Return(&google.TextSearchResponse{Places: []google.Place{first}, NextPageToken: "page-2"}, nil)
	h.places.On("TextSearch", mock.Anything, mock.Anything, mock.MatchedBy(func(o google.SearchOptions) bool {
		return o.PageToken == "page-2"
	})).Return(nil, errors.New("google: text_search: status 500"))

	sess := h.run(t, "nail salons")

	require.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 1, sess.Total)
	require.Len(t, sess.Businesses, 1)
	assert.Equal(t, "Luxe Nails", sess.Businesses[0].Name)

	var stopped bool
	for _, l := range sess.Logs {
		if strings.Contains(l.Message, "Search stopped after 1 results") {
			stopped = true
		}
	}
	assert.True(t, stopped)
}

func TestRun_StoreFailureStillGenerates(t *testing.T) {
	h := newHarness(t, 1)
	h.start(t, brokenInsertStore{h.store}, 1)
	h.search(h.details("p1", "Luxe Nails", ""))

	sess := h.run(t, "nail salons")

	require.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 1, sess.Total)
	assert.Equal(t, sess.Total, sess.Completed)
	require.Len(t, sess.Businesses, 1)
	assert.Equal(t, "Luxe Nails", sess.Businesses[0].Name)

	require.Len(t, h.sites.seen, 1)
	assert.Equal(t, "Luxe Nails", h.sites.seen[0].Name)
	assert.Equal(t, 1.0, counterValue(t, h.metrics, metrics.OutcomeStoreFailed))

	recs, err := h.store.ListBusinesses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRun_SkipsKnownBusinesses(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.store.InsertBusiness(context.Background(), model.Record{
		ID:      "existing",
		Name:    "LUXE NAILS",
		Address: "p1 Main Street, San Francisco, CA, USA",
	})
	require.NoError(t, err)
	h.search(h.details("p1", "Luxe Nails", ""))

	sess := h.run(t, "nail salons")

	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 0, sess.Total)
	assert.Equal(t, int32(0), h.research.creates.Load())
}

func TestRun_PollFailureFallsBackToSummary(t *testing.T) {
	h := newHarness(t, 1)
	h.research.pollErr = errors.New("poll timeout")
	h.search(h.details("p1", "Bait Shop", ""))

	sess := h.run(t, "fishing shops")

	require.Len(t, sess.Businesses, 1)
	assert.Equal(t, "Bait Shop is a neighborhood favorite.", sess.Businesses[0].Description)
	assert.Equal(t, []string{"Bait Shop"}, h.assets.keywords)
}

func TestRun_GenerationFailureKeepsPending(t *testing.T) {
	h := newHarness(t, 1)
	h.sites.err = errors.New("anthropic: overloaded")
	h.search(h.details("p1", "Luxe Nails", ""))

	sess := h.run(t, "nail salons")

	require.Equal(t, session.StatusCompleted, sess.Status)
	require.Len(t, sess.Businesses, 1)
	card := sess.Businesses[0]
	assert.Equal(t, model.StatusPending, card.Status)
	assert.Empty(t, card.LiveURL)
	assert.Nil(t, card.EmailDraft)
}

func TestRun_CandidatePanicIsContained(t *testing.T) {
	h := newHarness(t, 1)
	h.sites.panic = true
	h.search(h.details("p1", "Luxe Nails", ""), h.details("p2", "Nail Bar", ""))

	sess := h.run(t, "nail salons")

	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 2, sess.Completed)
	assert.Equal(t, 2.0, counterValue(t, h.metrics, metrics.OutcomePanic))
}

func TestRun_ConcurrentCandidates(t *testing.T) {
	h := newHarness(t, 3)
	var places []google.Place
	for i := range 6 {
		places = append(places, h.details(fmt.Sprintf("p%d", i), fmt.Sprintf("Shop %d", i), ""))
	}
	h.search(places...)

	sess := h.run(t, "shops")

	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 6, sess.Total)
	assert.Equal(t, 6, sess.Completed)
	assert.Len(t, sess.Businesses, 6)

	recs, err := h.store.ListBusinesses(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 6)
}

func TestStatus_LogsSince(t *testing.T) {
	h := newHarness(t, 1)
	h.search(h.details("p1", "Luxe Nails", ""))
	sess := h.run(t, "nail salons")
	require.GreaterOrEqual(t, len(sess.Logs), 3)

	all, err := h.svc.Status(context.Background(), sess.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all.Logs, len(sess.Logs))
	assert.Equal(t, session.StatusCompleted, all.Status)

	cursor := sess.Logs[1].Time
	later, err := h.svc.Status(context.Background(), sess.ID, cursor)
	require.NoError(t, err)
	assert.Len(t, later.Logs, len(sess.Logs)-2)
	for _, e := range later.Logs {
		assert.True(t, e.Time.After(cursor))
	}
}

func TestStatus_NotFound(t *testing.T) {
	h := newHarness(t, 1)

	_, err := h.svc.Status(context.Background(), "nope", time.Time{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.svc.Results(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBuildRecord_PrefersGoogleContact(t *testing.T) {
	phone := "555-9999"
	hours := "Mon-Fri 9-5"
	p := model.Place{PlaceID: "p1", Name: "Luxe Nails", Phone: "", OpeningHours: "Monday: 9 AM-5 PM"}
	rec := buildRecord(p, model.Enrichment{Phone: &phone, BusinessHours: &hours}, "id-1", time.Unix(0, 0))

	require.NotNil(t, rec.Phone)
	assert.Equal(t, "555-9999", *rec.Phone)
	require.NotNil(t, rec.BusinessHours)
	assert.Equal(t, "Monday: 9 AM-5 PM", *rec.BusinessHours)
	assert.Equal(t, "luxe-nails", rec.Slug)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.NotNil(t, rec.SocialMediaLinks)
}

func counterValue(t *testing.T, m *metrics.Metrics, outcome string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "platter_candidates_total" {
			continue
		}
		for _, mt := range f.GetMetric() {
			for _, l := range mt.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return mt.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRun_ObserverSeesFinishedSessionOnce(t *testing.T) {
	h := newHarness(t, 1)
	h.search(h.details("p1", "Rosa's Nails", ""))

	sess := h.run(t, "nail salons in San Francisco")
	require.Equal(t, session.StatusCompleted, sess.Status)

	require.Eventually(t, func() bool {
		return len(h.observer.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	got := h.observer.snapshot()[0]
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, session.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Total)
	require.Len(t, got.Businesses, 1)
	assert.Equal(t, model.StatusDeployed, got.Businesses[0].Status)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.observer.snapshot(), 1)
}
