// Package assets picks a Poly Haven 3D model that fits a business.
package assets

import (
	"context"
	"math/rand/v2"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/platter/pkg/polyhaven"
)

// DefaultCacheTTL is how long the catalog is reused before refetching.
const DefaultCacheTTL = 30 * time.Minute

// FallbackAssets are curated models used when no keyword matches.
var FallbackAssets = []string{
	"CoffeeCart_01", "ArmChair_01", "Chandelier_01", "Lantern_01",
	"antique_ceramic_vase_01", "Rockingchair_01", "Ukulele_01",
	"potted_plant_01", "CoffeeTable_01", "tea_set_01",
	"mantel_clock_01", "brass_candleholders", "ornate_mirror_01",
	"vintage_cabinet_01", "desk_lamp_arm_01", "ceramic_vase_01",
	"wooden_display_shelves_01", "alarm_clock_01", "dartboard",
}

// Model is a chosen asset and its glTF download URL.
type Model struct {
	AssetID  string `json:"asset_id"`
	URL      string `json:"url"`
	Format   string `json:"format"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Finder resolves keywords to models. Safe for concurrent use.
type Finder struct {
	client   polyhaven.Client
	keywords KeywordMap
	ttl      time.Duration
	log      *zap.Logger

	mu        sync.Mutex
	catalog   map[string]polyhaven.Asset
	ids       []string
	fetchedAt time.Time

	now     func() time.Time
	shuffle func([]string)
}

// Option configures a Finder.
type Option func(*Finder)

// WithKeywords replaces the built-in keyword map.
func WithKeywords(km KeywordMap) Option {
	return func(f *Finder) {
		if km != nil {
			f.keywords = km
		}
	}
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(d time.Duration) Option {
	return func(f *Finder) {
		if d > 0 {
			f.ttl = d
		}
	}
}

// WithLogger sets the logger used for lookup failures.
func WithLogger(l *zap.Logger) Option {
	return func(f *Finder) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFinder creates a Finder backed by client.
func NewFinder(client polyhaven.Client, opts ...Option) *Finder {
	f := &Finder{
		client:   client,
		keywords: DefaultKeywords(),
		ttl:      DefaultCacheTTL,
		log:      zap.L(),
		now:      time.Now,
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FindModel returns the best model for keyword, a curated fallback when no
// term matches, or nil when the catalog is unreachable or nothing has a
// glTF file. It never returns an error.
func (f *Finder) FindModel(ctx context.Context, keyword string) *Model {
	catalog, ids, err := f.loadCatalog(ctx)
	if err != nil {
		f.log.Warn("assets: catalog fetch failed", zap.Error(err))
		return nil
	}

	for _, term := range f.keywords.Expand(keyword) {
		id := bestMatch(catalog, ids, term)
		if id == "" {
			continue
		}
		if u := f.gltfURL(ctx, id); u != "" {
			return &Model{AssetID: id, URL: u, Format: "gltf"}
		}
	}

	candidates := make([]string, len(FallbackAssets))
	copy(candidates, FallbackAssets)
	f.shuffle(candidates)
	for _, id := range candidates {
		if _, ok := catalog[id]; !ok {
			continue
		}
		if u := f.gltfURL(ctx, id); u != "" {
			return &Model{AssetID: id, URL: u, Format: "gltf", Fallback: true}
		}
	}
	return nil
}

func (f *Finder) gltfURL(ctx context.Context, id string) string {
	u, err := f.client.GetFiles(ctx, id)
	if err != nil {
		f.log.Debug("assets: files lookup failed", zap.String("asset_id", id), zap.Error(err))
		return ""
	}
	return u
}

func (f *Finder) loadCatalog(ctx context.Context) (map[string]polyhaven.Asset, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.catalog != nil && f.now().Sub(f.fetchedAt) < f.ttl {
		return f.catalog, f.ids, nil
	}

	catalog, err := f.client.ListModels(ctx)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	f.catalog, f.ids, f.fetchedAt = catalog, ids, f.now()
	return catalog, ids, nil
}

// bestMatch returns the highest scoring id for term, the first in ids order
// on ties, or "" when nothing scores.
func bestMatch(catalog map[string]polyhaven.Asset, ids []string, term string) string {
	kw := strings.ToLower(term)
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	if err != nil {
		return ""
	}

	best, bestScore := "", 0
	for _, id := range ids {
		if s := score(catalog[id], id, kw, re); s > bestScore {
			best, bestScore = id, s
		}
	}
	return best
}

// score is 2 for a whole-word hit, 1 for a substring hit, else 0.
func score(a polyhaven.Asset, id, kw string, word *regexp.Regexp) int {
	parts := make([]string, 0, 2+len(a.Categories)+len(a.Tags))
	parts = append(parts, id, a.Name)
	parts = append(parts, a.Categories...)
	parts = append(parts, a.Tags...)
	text := strings.ToLower(strings.Join(parts, " "))

	switch {
	case word.MatchString(text):
		return 2
	case strings.Contains(text, kw):
		return 1
	default:
		return 0
	}
}
