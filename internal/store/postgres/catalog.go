package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

const productColumns = `id, name, product_type, unit, category, price, cost, low_stock_threshold, attributes, active, archived_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var attrs []byte
	var archivedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.Name, &p.ProductType, &p.Unit, &p.Category, &p.Price, &p.Cost, &p.LowStockThreshold, &attrs, &p.Active, &archivedAt, &p.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return domain.Product{}, err
		}
	}
	if archivedAt.Valid {
		at := archivedAt.Time.UTC()
		p.ArchivedAt = &at
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price.IsNegative() || product.Cost.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if product.Attributes == nil {
		product.Attributes = map[string]string{}
	}
	attrs, err := json.Marshal(product.Attributes)
	if err != nil {
		return nil, err
	}

	product.Active = true
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, product_type, unit, category, price, cost, low_stock_threshold, attributes, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,true,$10)
	`, product.ID, product.Name, product.ProductType, product.Unit, product.Category, product.Price, product.Cost, product.LowStockThreshold, attrs, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error) {
	query := psql.Select(productColumns).From("products").OrderBy("category", "name")
	if !includeArchived {
		query = query.Where("active = true")
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) ArchiveProduct(ctx context.Context, id string, at time.Time) (*domain.Product, error) {
	var archived domain.Product
	err := s.withTx(ctx, "archive_product", func(tx *sql.Tx) error {
		p, err := scanProduct(tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		var stocked bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM stock_records WHERE product_id = $1 AND quantity <> 0)
		`, id).Scan(&stocked); err != nil {
			return err
		}
		if stocked {
			return store.ErrProductInUse
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET active = false, archived_at = COALESCE(archived_at, $2)
			WHERE id = $1
		`, id, at.UTC()); err != nil {
			return err
		}
		p.Active = false
		if p.ArchivedAt == nil {
			archivedAt := at.UTC()
			p.ArchivedAt = &archivedAt
		}
		archived = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &archived, nil
}

func (s *Store) CreateLocation(ctx context.Context, location domain.Location) (*domain.Location, error) {
	if location.ID == "" || location.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, name, address, created_at)
		VALUES ($1,$2,$3,$4)
	`, location.ID, location.Name, location.Address, location.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	created := location
	return &created, nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	var loc domain.Location
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, created_at FROM locations WHERE id = $1
	`, id).Scan(&loc.ID, &loc.Name, &loc.Address, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	loc.CreatedAt = loc.CreatedAt.UTC()
	return &loc, nil
}

func (s *Store) ListLocations(ctx context.Context) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, created_at FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]domain.Location, 0, 8)
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Address, &loc.CreatedAt); err != nil {
			return nil, err
		}
		loc.CreatedAt = loc.CreatedAt.UTC()
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}
