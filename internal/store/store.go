// Package store persists business records and the generated-site log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/platter/internal/model"
)

// Resource names inside the data directory.
const (
	BusinessesResource = "businesses.json"
	GeneratedResource  = "generated.json"
)

var (
	// ErrDuplicate is returned when a record with the same normalized name
	// and address is already stored.
	ErrDuplicate = eris.New("store: duplicate business")
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = eris.New("store: business not found")
)

// CompactResult reports how many entries each resource held before and
// after compaction.
type CompactResult struct {
	BusinessesBefore int `json:"businesses_before"`
	BusinessesAfter  int `json:"businesses_after"`
	SitesBefore      int `json:"sites_before"`
	SitesAfter       int `json:"sites_after"`
}

// Store defines the persistence interface for the discovery pipeline.
type Store interface {
	// Businesses
	ListBusinesses(ctx context.Context) ([]model.Record, error)
	// InsertBusiness persists rec unless a duplicate exists. The slug is
	// made unique against stored records; the stored copy is returned.
	InsertBusiness(ctx context.Context, rec model.Record) (*model.Record, error)
	MarkDeployed(ctx context.Context, id, liveURL3D, liveURLClassic string) error
	SetStatus(ctx context.Context, id string, status model.Status) error

	// Generated sites
	RecordSite(ctx context.Context, site model.GeneratedSite) error
	ListSites(ctx context.Context) ([]model.GeneratedSite, error)

	// Maintenance
	Compact(ctx context.Context) (*CompactResult, error)
}
