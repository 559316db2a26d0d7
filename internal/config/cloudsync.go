package config

import (
	"context"
	"encoding/json"
	"time"

	"github.com/volteria/controller-core/internal/cloud"
)

// overrideRow is the shape of a site_configs row: the cloud stores the
// entire SiteConfig payload as one JSON document keyed by site id and
// versioned by updated_at, so the controller can detect "nothing changed"
// without diffing individual fields.
type overrideRow struct {
	SiteID    string          `json:"site_id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Document  json.RawMessage `json:"document"`
}

// CloudSyncer polls the cloud for a newer site configuration document on a
// fixed interval and applies it in place when its updated_at is newer than
// the currently loaded configuration.
type CloudSyncer struct {
	client *cloud.Client
	siteID string
}

// NewCloudSyncer builds a syncer bound to one site. client may be nil,
// which disables syncing entirely (local-only operation).
func NewCloudSyncer(client *cloud.Client, siteID string) *CloudSyncer {
	return &CloudSyncer{client: client, siteID: siteID}
}

// Poll fetches the current cloud document for the bound site and, if newer,
// unmarshals it over cfg. It reports whether an update was applied and any
// validation warnings the newly applied document raised.
func (s *CloudSyncer) Poll(ctx context.Context, cfg *SiteConfig) (applied bool, warnings []string, err error) {
	if s.client == nil {
		return false, nil, nil
	}

	var rows []overrideRow
	err = s.client.From("site_configs").
		Select("site_id,updated_at,document").
		Eq("site_id", s.siteID).
		Limit(1).
		Execute(ctx, &rows)
	if err != nil {
		return false, nil, err
	}
	if len(rows) == 0 {
		return false, nil, nil
	}

	row := rows[0]
	if !row.UpdatedAt.After(cfg.UpdatedAt) {
		return false, nil, nil
	}

	next := New()
	if err := json.Unmarshal(row.Document, next); err != nil {
		return false, nil, err
	}
	next.UpdatedAt = row.UpdatedAt
	next.normalize()
	warnings = next.Validate()

	*cfg = *next
	return true, warnings, nil
}

// DefaultCloudSyncInterval is the polling cadence for CloudSyncer.Poll
const DefaultCloudSyncInterval = 5 * time.Minute
