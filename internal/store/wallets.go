package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"order-lifecycle/internal/models"

	"github.com/shopspring/decimal"
)

// ErrNegativeBalance is returned when a debit exceeds the wallet balance
var ErrNegativeBalance = errors.New("wallet balance would become negative")

// GetWalletByUserID retrieves the wallet of a user
func (s *Store) GetWalletByUserID(ctx context.Context, userID int64) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.GetContext(ctx, &wallet, "SELECT * FROM wallets WHERE user_id = $1", userID)
	if err != nil {
		return nil, notFound(err, "wallet", userID)
	}
	return &wallet, nil
}

// AdjustWalletTx applies amount to the user's wallet and records a ledger line.
// The wallet row is locked FOR UPDATE so concurrent adjustments of one wallet
// serialise. A reference that was already applied leaves the balance unchanged.
func (s *Store) AdjustWalletTx(ctx context.Context, userID int64, amount decimal.Decimal, reason, note, reference string) (*models.Wallet, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Wallets are created lazily on the first credit.
	_, err = tx.ExecContext(ctx,
		"INSERT INTO wallets (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var wallet models.Wallet
	err = tx.GetContext(ctx, &wallet, "SELECT * FROM wallets WHERE user_id = $1 FOR UPDATE", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	if reference != "" {
		var applied bool
		err = tx.GetContext(ctx, &applied,
			"SELECT EXISTS(SELECT 1 FROM wallet_transactions WHERE reference = $1)", reference)
		if err != nil {
			return nil, fmt.Errorf("failed to check wallet reference: %w", err)
		}
		if applied {
			return &wallet, nil
		}
	}

	newBalance := wallet.Balance.Add(amount)
	if newBalance.IsNegative() {
		return nil, fmt.Errorf("%w: balance=%s, amount=%s", ErrNegativeBalance, wallet.Balance, amount)
	}

	err = tx.GetContext(ctx, &wallet.UpdatedAt,
		"UPDATE wallets SET balance = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at",
		newBalance, wallet.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}
	wallet.Balance = newBalance

	_, err = tx.ExecContext(ctx,
		"INSERT INTO wallet_transactions (wallet_id, amount, reason, note, reference) VALUES ($1, $2, $3, $4, $5)",
		wallet.ID, amount, reason, note, sql.NullString{String: reference, Valid: reference != ""})
	if err != nil {
		return nil, fmt.Errorf("failed to record wallet transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &wallet, nil
}

