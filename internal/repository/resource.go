package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spiget/parser/internal/domain"
)

const createResourcesTable = `
CREATE TABLE IF NOT EXISTS resources (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	author_id   INTEGER NOT NULL,
	category_id INTEGER,
	premium     BOOLEAN NOT NULL DEFAULT FALSE,
	update_date BIGINT NOT NULL,
	data        JSONB NOT NULL
)`

const upsertResource = `
INSERT INTO resources (id, name, author_id, category_id, premium, update_date, data)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id)
DO UPDATE SET name = $2, author_id = $3, category_id = $4, premium = $5, update_date = $6, data = $7`

type ResourceRepository interface {
	EnsureSchema(ctx context.Context) error
	SaveResources(ctx context.Context, resources []*domain.ListedResource) error
}

type resourceRepository struct {
	db *pgxpool.Pool
}

func NewResourceRepository(db *pgxpool.Pool) ResourceRepository {
	return &resourceRepository{
		db: db,
	}
}

func (r *resourceRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createResourcesTable); err != nil {
		return fmt.Errorf("failed to create resources table: %w", err)
	}
	return nil
}

// SaveResources upserts one page worth of resources in a single round trip.
func (r *resourceRepository) SaveResources(ctx context.Context, resources []*domain.ListedResource) error {
	if len(resources) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, resource := range resources {
		batch.Queue(upsertResource,
			resource.ID,
			resource.Name,
			resource.Author.ID,
			categoryID(resource),
			resource.Premium,
			resource.UpdateDate,
			resource,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, resource := range resources {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save resource %d: %w", resource.ID, err)
		}
	}

	return nil
}

func categoryID(resource *domain.ListedResource) *int {
	if resource.Category == nil {
		return nil
	}
	return &resource.Category.ID
}
