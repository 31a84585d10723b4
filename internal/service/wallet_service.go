package service

import (
	"context"
	"errors"
	"fmt"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletStore is the wallet persistence WalletService needs
type WalletStore interface {
	GetWalletByUserID(ctx context.Context, userID int64) (*models.Wallet, error)
	AdjustWalletTx(ctx context.Context, userID int64, amount decimal.Decimal, reason, note, reference string) (*models.Wallet, error)
}

// WalletService adjusts wallet balances
type WalletService struct {
	store  WalletStore
	logger *zap.Logger
}

// NewWalletService creates a new wallet service
func NewWalletService(store WalletStore) *WalletService {
	return &WalletService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// GetWalletByUser retrieves a user's wallet
func (ws *WalletService) GetWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error) {
	wallet, err := ws.store.GetWalletByUserID(ctx, userID)
	if err != nil {
		return nil, lookupError(err, EntityWallet, userID)
	}
	return wallet, nil
}

// AdjustWallet credits (positive amount) or debits (negative amount) a wallet.
// The store serialises adjustments of one wallet; a reference that was
// already applied returns the current wallet unchanged.
func (ws *WalletService) AdjustWallet(ctx context.Context, userID int64, amount decimal.Decimal, reason, note, reference string) (*models.Wallet, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.AdjustWallet")
	defer span.End()

	if amount.IsZero() {
		return nil, util.RecordError(span, fmt.Errorf("wallet adjustment amount must be non-zero"))
	}

	wallet, err := ws.store.AdjustWalletTx(ctx, userID, amount, reason, note, reference)
	if err != nil {
		if errors.Is(err, store.ErrNegativeBalance) {
			return nil, util.RecordError(span, fmt.Errorf("%w: user %d", ErrInsufficientFunds, userID))
		}
		return nil, util.RecordError(span, fmt.Errorf("failed to adjust wallet: %w", err))
	}

	ws.logger.Info("Wallet adjusted",
		zap.Int64("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("reason", reason),
		zap.String("reference", reference),
		zap.String("balance", wallet.Balance.String()))

	return wallet, nil
}
