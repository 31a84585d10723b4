package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"order-lifecycle/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned by lookups that match no row
var ErrNotFound = errors.New("record not found")

// ErrStaleStatus is returned when an order's status changed after the
// caller read it
var ErrStaleStatus = errors.New("order status changed concurrently")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema files in name order. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

func notFound(err error, entity string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
	}
	return err
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &product, nil
}

// GetProductVariantByID retrieves a product variant by ID
func (s *Store) GetProductVariantByID(ctx context.Context, id int64) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := s.db.GetContext(ctx, &variant, "SELECT * FROM product_variants WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product variant", id)
	}
	return &variant, nil
}

// GetProducts retrieves all products
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// IncrementProductStock adds quantity to a product's stock once per restoration key.
// It reports whether the increment was applied.
func (s *Store) IncrementProductStock(ctx context.Context, productID int64, quantity int, restorationKey string) (bool, error) {
	return s.restoreStockTx(ctx, restorationKey,
		"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
}

// IncrementVariantStock adds quantity to a variant's stock once per restoration key.
// It reports whether the increment was applied.
func (s *Store) IncrementVariantStock(ctx context.Context, variantID int64, quantity int, restorationKey string) (bool, error) {
	return s.restoreStockTx(ctx, restorationKey,
		"UPDATE product_variants SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		quantity, variantID)
}

func (s *Store) restoreStockTx(ctx context.Context, restorationKey, update string, quantity int, id int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO stock_restorations (restoration_key) VALUES ($1) ON CONFLICT (restoration_key) DO NOTHING",
		restorationKey)
	if err != nil {
		return false, fmt.Errorf("failed to record stock restoration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, update, quantity, id)
	if err != nil {
		return false, fmt.Errorf("failed to restore stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("stock row %d: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

// ListUsersByRole retrieves every user with the given role
func (s *Store) ListUsersByRole(ctx context.Context, role string) ([]models.User, error) {
	var users []models.User
	err := s.db.SelectContext(ctx, &users, "SELECT * FROM users WHERE role = $1 ORDER BY id", role)
	return users, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
