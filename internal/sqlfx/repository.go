package sqlfx

import (
	"github.com/jmoiron/sqlx"

	"github.com/bksd/bksd/pkg/domain"
	"github.com/bksd/bksd/pkg/storage"
)

// PersistenceRepository provides the sqlite-backed domain.Persistence
// implementation to the rest of the fx graph.
func PersistenceRepository(db *sqlx.DB) domain.Persistence {
	return storage.NewRepository(db)
}
