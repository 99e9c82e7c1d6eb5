package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	isPostgres := db.Dialector.Name() == "postgres"

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: pgvector extension (Postgres only; SQLite stores the
		// vector as text and searches through the linear scanner)
		{
			ID: "001_vector_extension",
			Migrate: func(tx *gorm.DB) error {
				if !isPostgres {
					return nil
				}
				return tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},

		// Migration 002: core relations
		{
			ID: "002_core_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Article{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&Thread{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Linkage{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("linkages", "threads", "articles")
			},
		},

		// Migration 003: ANN index over thread embeddings (Postgres only).
		// HNSW over a halfvec cast: pgvector caps full-precision indexes at
		// 2000 dimensions, so 3072-dim embeddings are indexed half-precision.
		// The search query casts the same way to hit this index.
		{
			ID: "003_thread_embedding_index",
			Migrate: func(tx *gorm.DB) error {
				if !isPostgres {
					return nil
				}
				return tx.Exec(
					`CREATE INDEX IF NOT EXISTS idx_threads_embedding
					 ON threads USING hnsw ((embedding::halfvec(3072)) halfvec_cosine_ops)`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				if !isPostgres {
					return nil
				}
				return tx.Exec("DROP INDEX IF EXISTS idx_threads_embedding").Error
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
