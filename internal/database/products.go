package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/promtools/promscraper/internal/models"
)

// SaveProducts upserts a job's scraped products. Rescraping the same
// product within a job replaces the stored snapshot.
func (db *DB) SaveProducts(ctx context.Context, jobID string, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}

	query := `
		INSERT INTO scraped_products (job_id, product_id, title, price, link, details_loaded, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, product_id) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			link = EXCLUDED.link,
			details_loaded = EXCLUDED.details_loaded,
			record = EXCLUDED.record
	`

	return db.Transaction(ctx, func(tx pgx.Tx) error {
		for _, p := range products {
			record, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to encode product %s: %w", p.ID, err)
			}
			if _, err := tx.Exec(ctx, query,
				jobID, p.ID, p.Title, p.Price, p.Link, p.DetailsLoaded, record); err != nil {
				return fmt.Errorf("failed to save product %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// GetJobProducts loads every product scraped by a job, oldest first.
func (db *DB) GetJobProducts(ctx context.Context, jobID string) ([]*models.Product, error) {
	rows, err := db.Query(ctx,
		`SELECT record FROM scraped_products WHERE job_id = $1 ORDER BY created_at, product_id`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p := &models.Product{}
		if err := json.Unmarshal(record, p); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
