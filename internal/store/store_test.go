package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"order-lifecycle/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(sqlx.NewDb(db, "postgres")), mock
}

func TestGetOrderByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM orders WHERE id = \\$1").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetOrderByID(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatusFastIsOneStatement(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("WITH updated AS \\(\\s*UPDATE orders SET").
		WithArgs(int64(100), "shipped", "", "processing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateOrderStatusFast(context.Background(), models.StatusChange{
		OrderID: 100,
		From:    models.StatusProcessing,
		To:      models.StatusShipped,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusWritePathsSetTheSameColumns(t *testing.T) {
	assert.Contains(t, fastStatusUpdate, setStatusColumns)
	assert.Contains(t, generalStatusUpdate, setStatusColumns)

	historyColumns := "INSERT INTO order_status_history (order_id, from_status, to_status, reason, actor_id)"
	assert.Contains(t, fastStatusUpdate, historyColumns)
	assert.Contains(t, insertStatusHistory, historyColumns)
}

func TestUpdateOrderStatusFastMissingOrder(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("WITH updated AS").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateOrderStatusFast(context.Background(), models.StatusChange{
		OrderID: 9,
		From:    models.StatusConfirmed,
		To:      models.StatusProcessing,
	})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatusLocksRowAndRecordsHistory(t *testing.T) {
	s, mock := newMockStore(t)
	actor := int64(5)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec("UPDATE orders SET").
		WithArgs(int64(100), "cancelled", "changed my mind").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs(int64(100), "cancelled", "changed my mind", "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.UpdateOrderStatus(context.Background(), models.StatusChange{
		OrderID: 100,
		From:    models.StatusPending,
		To:      models.StatusCancelled,
		Reason:  "changed my mind",
		ActorID: &actor,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatusRollsBackOnHistoryFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec("UPDATE orders SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_status_history").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.UpdateOrderStatus(context.Background(), models.StatusChange{
		OrderID: 100,
		From:    models.StatusPending,
		To:      models.StatusConfirmed,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatusRefusesStaleFrom(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("confirmed"))
	mock.ExpectRollback()

	err := s.UpdateOrderStatus(context.Background(), models.StatusChange{
		OrderID: 100,
		From:    models.StatusPending,
		To:      models.StatusCancelled,
	})
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.Contains(t, err.Error(), "confirmed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatusMissingOrder(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	err := s.UpdateOrderStatus(context.Background(), models.StatusChange{OrderID: 1, To: models.StatusConfirmed})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSellerOrderStatusMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE seller_orders SET status").
		WithArgs("shipped", int64(77)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateSellerOrderStatus(context.Background(), 77, models.StatusShipped)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestIncrementProductStockAppliesOnce(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock_restorations").
		WithArgs("order-item:1:cancel").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE products SET stock = stock \\+ \\$1").
		WithArgs(2, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := s.IncrementProductStock(context.Background(), 10, 2, "order-item:1:cancel")
	require.NoError(t, err)
	assert.True(t, applied)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock_restorations").
		WithArgs("order-item:1:cancel").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	applied, err = s.IncrementProductStock(context.Background(), 10, 2, "order-item:1:cancel")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementVariantStockMissingVariant(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock_restorations").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE product_variants SET stock").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.IncrementVariantStock(context.Background(), 3, 1, "order-item:2:cancel")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func walletRows(balance string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "balance", "updated_at"}).
		AddRow(int64(1), int64(7), balance, time.Now())
}

func TestAdjustWalletTxCredits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM wallets WHERE user_id = \\$1 FOR UPDATE").
		WithArgs(int64(7)).
		WillReturnRows(walletRows("10.00"))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("order:100:cancel-refund").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE wallets SET balance").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	mock.ExpectExec("INSERT INTO wallet_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	wallet, err := s.AdjustWalletTx(context.Background(), 7, decimal.NewFromFloat(5.5),
		"order_cancelled", "refund", "order:100:cancel-refund")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(15.5).Equal(wallet.Balance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustWalletTxReferenceAlreadyApplied(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wallets").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(walletRows("15.50"))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	wallet, err := s.AdjustWalletTx(context.Background(), 7, decimal.NewFromFloat(5.5),
		"order_cancelled", "refund", "order:100:cancel-refund")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(15.5).Equal(wallet.Balance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustWalletTxRejectsNegativeBalance(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wallets").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(walletRows("3.00"))
	mock.ExpectRollback()

	_, err := s.AdjustWalletTx(context.Background(), 7, decimal.NewFromInt(-5), "purchase", "", "")
	assert.True(t, errors.Is(err, ErrNegativeBalance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationReadMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE notifications SET read").
		WithArgs(int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkNotificationRead(context.Background(), 12)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStatusChangeAgainstDatabase(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database")
	}

	store, err := NewStore(url)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	orders, err := store.GetOrdersByUserID(ctx, 1)
	require.NoError(t, err)
	if len(orders) == 0 {
		t.Skip("no seeded orders")
	}

	order := orders[0]
	err = store.UpdateOrderStatusFast(ctx, models.StatusChange{
		OrderID: order.ID,
		From:    order.Status,
		To:      order.Status,
		Reason:  "integration",
	})
	require.NoError(t, err)

	history, err := store.GetOrderStatusHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}
