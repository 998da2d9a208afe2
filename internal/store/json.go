package store

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/platter/internal/dedupe"
	"github.com/sells-group/platter/internal/jsonstore"
	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/slug"
)

// JSONStore implements Store on top of jsonstore resources.
type JSONStore struct {
	js *jsonstore.Store
}

// NewJSON creates a Store backed by js.
func NewJSON(js *jsonstore.Store) *JSONStore {
	return &JSONStore{js: js}
}

// ListBusinesses implements Store.
func (s *JSONStore) ListBusinesses(_ context.Context) ([]model.Record, error) {
	return jsonstore.Read[model.Record](s.js, BusinessesResource), nil
}

// ListSites implements Store.
func (s *JSONStore) ListSites(_ context.Context) ([]model.GeneratedSite, error) {
	return jsonstore.Read[model.GeneratedSite](s.js, GeneratedResource), nil
}

// InsertBusiness implements Store. The duplicate check and slug assignment
// happen inside the same exclusive cycle as the write.
func (s *JSONStore) InsertBusiness(ctx context.Context, rec model.Record) (*model.Record, error) {
	rec.Sanitize()
	if rec.Slug == "" {
		rec.Slug = slug.Make(rec.Name)
	}
	sites := jsonstore.Read[model.GeneratedSite](s.js, GeneratedResource)

	err := jsonstore.Mutate(ctx, s.js, BusinessesResource, func(list []model.Record) ([]model.Record, bool, error) {
		if dedupe.AlreadyExists(list, rec.Name, rec.Address) {
			return nil, false, ErrDuplicate
		}
		taken := make(map[string]bool, len(list)+len(sites))
		for _, r := range list {
			taken[r.Slug] = true
		}
		for _, g := range sites {
			taken[g.Slug] = true
		}
		rec.Slug = slug.Unique(rec.Slug, func(s string) bool { return taken[s] })
		return append(list, rec), true, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, eris.Wrap(err, "store: insert business")
	}
	return &rec, nil
}

// MarkDeployed implements Store.
func (s *JSONStore) MarkDeployed(ctx context.Context, id, liveURL3D, liveURLClassic string) error {
	return s.update(ctx, id, func(r *model.Record) {
		r.Status = model.StatusDeployed
		r.LiveURL3D = liveURL3D
		r.LiveURLClassic = liveURLClassic
	})
}

// SetStatus implements Store.
func (s *JSONStore) SetStatus(ctx context.Context, id string, status model.Status) error {
	if !status.Valid() {
		return eris.Errorf("store: invalid status %q", status)
	}
	return s.update(ctx, id, func(r *model.Record) { r.Status = status })
}

func (s *JSONStore) update(ctx context.Context, id string, fn func(*model.Record)) error {
	found, err := jsonstore.Update(ctx, s.js, BusinessesResource,
		func(r model.Record) bool { return r.ID == id }, fn)
	if err != nil {
		return eris.Wrapf(err, "store: update business %s", id)
	}
	if found == nil {
		return ErrNotFound
	}
	return nil
}

// RecordSite implements Store.
func (s *JSONStore) RecordSite(ctx context.Context, site model.GeneratedSite) error {
	if site.Status == "" {
		site.Status = model.SiteStatusActive
	}
	if _, err := jsonstore.Append(ctx, s.js, GeneratedResource, site); err != nil {
		return eris.Wrap(err, "store: record site")
	}
	return nil
}

// Compact keeps the first business per dedup key and the first generated
// site per slug. Records whose key is empty are kept as they are.
func (s *JSONStore) Compact(ctx context.Context) (*CompactResult, error) {
	var res CompactResult

	err := jsonstore.Mutate(ctx, s.js, BusinessesResource, func(list []model.Record) ([]model.Record, bool, error) {
		res.BusinessesBefore = len(list)
		seen := make(map[string]bool, len(list))
		out := list[:0:0]
		for _, r := range list {
			key := dedupe.Key(r.Name, r.Address)
			if key != "" && seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r)
		}
		res.BusinessesAfter = len(out)
		return out, len(out) != len(list), nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "store: compact businesses")
	}

	err = jsonstore.Mutate(ctx, s.js, GeneratedResource, func(list []model.GeneratedSite) ([]model.GeneratedSite, bool, error) {
		res.SitesBefore = len(list)
		seen := make(map[string]bool, len(list))
		out := list[:0:0]
		for _, g := range list {
			key := strings.ToLower(strings.TrimSpace(g.Slug))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, g)
		}
		res.SitesAfter = len(out)
		return out, len(out) != len(list), nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "store: compact sites")
	}

	return &res, nil
}
