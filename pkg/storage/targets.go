package storage

import (
	"context"

	"github.com/bksd/bksd/pkg/domain"
)

const targetUpsertQuery = `
	INSERT INTO targets (uuid, label, capacity_bytes, adapter_name, source_device_path, created_at)
	VALUES (:uuid, :label, :capacity_bytes, :adapter_name, :source_device_path, :created_at)
	ON CONFLICT (uuid) DO UPDATE SET
		label = excluded.label,
		capacity_bytes = excluded.capacity_bytes,
		adapter_name = excluded.adapter_name,
		source_device_path = excluded.source_device_path
`

// UpsertTarget records the device as a known target, refreshing its label,
// capacity and source path on every rediscovery. created_at is preserved
// across re-inserts by the ON CONFLICT clause.
func (r *Repository) UpsertTarget(ctx context.Context, target domain.Target) error {
	_, err := r.db.NamedExecContext(ctx, targetUpsertQuery, target)
	return err
}
