// Package storage implements domain.Persistence against a sqlite3 database,
// following the teacher's sqlx-based prepared-statement style.
package storage

import (
	"github.com/jmoiron/sqlx"
)

// Repository is the sqlite-backed implementation of domain.Persistence.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps an already-migrated sqlx.DB.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}
