package service

import (
	"context"
	"errors"
	"fmt"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/redisclient"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/util"

	"go.uber.org/zap"
)

// StockStore is the stock persistence StockService needs
type StockStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductVariantByID(ctx context.Context, id int64) (*models.ProductVariant, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
	IncrementProductStock(ctx context.Context, productID int64, quantity int, restorationKey string) (bool, error)
	IncrementVariantStock(ctx context.Context, variantID int64, quantity int, restorationKey string) (bool, error)
}

// StockCache mirrors stock counters for fast reads
type StockCache interface {
	RestoreStock(ctx context.Context, key string, quantity int) (bool, error)
	InitStock(ctx context.Context, key string, stock int) error
}

// StockService restores stock in postgres and mirrors it into the cache
type StockService struct {
	store  StockStore
	cache  StockCache
	logger *zap.Logger
}

// NewStockService creates a new stock service. cache may be nil.
func NewStockService(store StockStore, cache StockCache) *StockService {
	return &StockService{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// GetProduct retrieves a product
func (ss *StockService) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	product, err := ss.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, lookupError(err, EntityProduct, productID)
	}
	return product, nil
}

// GetProductVariant retrieves a product variant
func (ss *StockService) GetProductVariant(ctx context.Context, variantID int64) (*models.ProductVariant, error) {
	variant, err := ss.store.GetProductVariantByID(ctx, variantID)
	if err != nil {
		return nil, lookupError(err, EntityVariant, variantID)
	}
	return variant, nil
}

// IncrementProductStock adds quantity back to a product once per restoration key
func (ss *StockService) IncrementProductStock(ctx context.Context, productID int64, quantity int, restorationKey string) error {
	ctx, span := util.StartSpan(ctx, "StockService.IncrementProductStock")
	defer span.End()

	applied, err := ss.store.IncrementProductStock(ctx, productID, quantity, restorationKey)
	if err != nil {
		return util.RecordError(span, incrementError(err, EntityProduct, productID))
	}
	ss.mirror(ctx, applied, redisclient.ProductStockKey(productID), quantity, restorationKey)
	return nil
}

// IncrementVariantStock adds quantity back to a variant once per restoration key
func (ss *StockService) IncrementVariantStock(ctx context.Context, variantID int64, quantity int, restorationKey string) error {
	ctx, span := util.StartSpan(ctx, "StockService.IncrementVariantStock")
	defer span.End()

	applied, err := ss.store.IncrementVariantStock(ctx, variantID, quantity, restorationKey)
	if err != nil {
		return util.RecordError(span, incrementError(err, EntityVariant, variantID))
	}
	ss.mirror(ctx, applied, redisclient.VariantStockKey(variantID), quantity, restorationKey)
	return nil
}

func incrementError(err error, entity string, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(entity, id)
	}
	return err
}

// mirror copies an applied increment into the cache. Postgres stays the
// source of truth, so cache failures are only logged.
func (ss *StockService) mirror(ctx context.Context, applied bool, key string, quantity int, restorationKey string) {
	if !applied {
		ss.logger.Info("Stock already restored",
			zap.String("restoration_key", restorationKey))
		return
	}
	if ss.cache == nil {
		return
	}

	cached, err := ss.cache.RestoreStock(ctx, key, quantity)
	if err != nil {
		ss.logger.Error("Failed to restore stock in Redis",
			zap.String("key", key),
			zap.Error(err))
		return
	}
	if !cached {
		ss.logger.Debug("Stock not cached, skipping mirror", zap.String("key", key))
	}
}

// SyncStockToRedis seeds the cache with the stock of every product
func (ss *StockService) SyncStockToRedis(ctx context.Context) error {
	if ss.cache == nil {
		return nil
	}

	ss.logger.Info("Starting stock sync to Redis")

	products, err := ss.store.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	for _, product := range products {
		if err := ss.cache.InitStock(ctx, redisclient.ProductStockKey(product.ID), product.Stock); err != nil {
			ss.logger.Error("Failed to init Redis stock",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
		}
	}

	ss.logger.Info("Stock sync completed", zap.Int("count", len(products)))
	return nil
}
