package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/worker"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fakeStore is an in-memory order, item and seller order repository
type fakeStore struct {
	mu           sync.Mutex
	orders       map[int64]*models.Order
	items        map[int64]*models.OrderItem
	sellerOrders map[int64]*models.SellerOrder
	history      []models.OrderStatusHistory

	fastWrites    int
	generalWrites int
	itemWrites    int
	sellerWrites  int

	updateErr error
	itemsErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:       make(map[int64]*models.Order),
		items:        make(map[int64]*models.OrderItem),
		sellerOrders: make(map[int64]*models.SellerOrder),
	}
}

func (f *fakeStore) addOrder(o models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = &o
}

func (f *fakeStore) addSellerOrder(so models.SellerOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellerOrders[so.ID] = &so
}

func (f *fakeStore) addItem(it models.OrderItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[it.ID] = &it
}

func (f *fakeStore) orderStatus(id int64) models.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id].Status
}

func (f *fakeStore) sellerOrderStatus(id int64) models.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sellerOrders[id].Status
}

func (f *fakeStore) itemStatus(id int64) models.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].Status
}

func (f *fakeStore) writes() (fast, general int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fastWrites, f.generalWrites
}

func (f *fakeStore) GetOrderByID(_ context.Context, orderID int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) UpdateOrderStatusFast(_ context.Context, change models.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fastWrites++
	return f.applyLocked(change)
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, change models.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generalWrites++
	return f.applyLocked(change)
}

func (f *fakeStore) applyLocked(change models.StatusChange) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	o, ok := f.orders[change.OrderID]
	if !ok {
		return fmt.Errorf("order %d: %w", change.OrderID, store.ErrNotFound)
	}
	now := time.Now()
	o.Status = change.To
	o.UpdatedAt = now
	if change.To == models.StatusCancelled {
		o.CancelledAt = &now
		if change.Reason != "" {
			reason := change.Reason
			o.CancelReason = &reason
		}
	}

	h := models.OrderStatusHistory{
		ID:         int64(len(f.history) + 1),
		OrderID:    change.OrderID,
		FromStatus: change.From,
		ToStatus:   change.To,
		ActorID:    change.ActorID,
		CreatedAt:  now,
	}
	if change.Reason != "" {
		reason := change.Reason
		h.Reason = &reason
	}
	f.history = append(f.history, h)
	return nil
}

func (f *fakeStore) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.itemsErr != nil {
		return nil, f.itemsErr
	}
	return f.filterItemsLocked(func(it *models.OrderItem) bool { return it.OrderID == orderID }), nil
}

func (f *fakeStore) GetOrderItem(_ context.Context, itemID int64) (*models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok {
		return nil, fmt.Errorf("order item %d: %w", itemID, store.ErrNotFound)
	}
	cp := *it
	return &cp, nil
}

func (f *fakeStore) UpdateOrderItemStatus(_ context.Context, itemID int64, status models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok {
		return fmt.Errorf("order item %d: %w", itemID, store.ErrNotFound)
	}
	f.itemWrites++
	it.Status = status
	return nil
}

func (f *fakeStore) GetOrderStatusHistory(_ context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OrderStatusHistory
	for _, h := range f.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSellerOrder(_ context.Context, sellerOrderID int64) (*models.SellerOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	so, ok := f.sellerOrders[sellerOrderID]
	if !ok {
		return nil, fmt.Errorf("seller order %d: %w", sellerOrderID, store.ErrNotFound)
	}
	cp := *so
	return &cp, nil
}

func (f *fakeStore) GetSellerOrdersByOrderID(_ context.Context, orderID int64) ([]models.SellerOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SellerOrder
	for _, so := range f.sellerOrders {
		if so.OrderID == orderID {
			out = append(out, *so)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetOrderItemsBySellerOrderID(_ context.Context, sellerOrderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filterItemsLocked(func(it *models.OrderItem) bool { return it.SellerOrderID == sellerOrderID }), nil
}

func (f *fakeStore) UpdateSellerOrderStatus(_ context.Context, sellerOrderID int64, status models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	so, ok := f.sellerOrders[sellerOrderID]
	if !ok {
		return fmt.Errorf("seller order %d: %w", sellerOrderID, store.ErrNotFound)
	}
	f.sellerWrites++
	so.Status = status
	return nil
}

func (f *fakeStore) filterItemsLocked(keep func(*models.OrderItem) bool) []models.OrderItem {
	var out []models.OrderItem
	for _, it := range f.items {
		if keep(it) {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// fakeUsers is an in-memory user directory
type fakeUsers struct {
	mu      sync.Mutex
	users   map[int64]models.User
	listErr error
}

func newFakeUsers(users ...models.User) *fakeUsers {
	f := &fakeUsers{users: make(map[int64]models.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetUserByID(_ context.Context, userID int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return &u, nil
}

func (f *fakeUsers) ListUsersByRole(_ context.Context, role string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.User
	for _, u := range f.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeWallets credits balances in memory and honours references
type fakeWallets struct {
	mu           sync.Mutex
	balances     map[int64]decimal.Decimal
	references   map[string]bool
	calls        int
	failuresLeft int
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{
		balances:   make(map[int64]decimal.Decimal),
		references: make(map[string]bool),
	}
}

func (f *fakeWallets) balance(userID int64) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

func (f *fakeWallets) GetWalletByUser(_ context.Context, userID int64) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.Wallet{UserID: userID, Balance: f.balances[userID]}, nil
}

func (f *fakeWallets) AdjustWallet(_ context.Context, userID int64, amount decimal.Decimal, _, _, reference string) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("wallet service unavailable")
	}
	if reference != "" && f.references[reference] {
		return &models.Wallet{UserID: userID, Balance: f.balances[userID]}, nil
	}
	f.references[reference] = true
	f.balances[userID] = f.balances[userID].Add(amount)
	return &models.Wallet{UserID: userID, Balance: f.balances[userID]}, nil
}

// fakeStock counts restored quantities per product and variant
type fakeStock struct {
	mu             sync.Mutex
	products       map[int64]int
	variants       map[int64]int
	failProducts   map[int64]bool
	failAll        bool
	appliedKeys    map[string]bool
	incrementCalls int
}

func newFakeStock() *fakeStock {
	return &fakeStock{
		products:     make(map[int64]int),
		variants:     make(map[int64]int),
		failProducts: make(map[int64]bool),
		appliedKeys:  make(map[string]bool),
	}
}

func (f *fakeStock) productStock(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id]
}

func (f *fakeStock) variantStock(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.variants[id]
}

func (f *fakeStock) GetProduct(_ context.Context, productID int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stock, ok := f.products[productID]
	if !ok {
		return nil, notFound(EntityProduct, productID)
	}
	return &models.Product{ID: productID, Stock: stock}, nil
}

func (f *fakeStock) GetProductVariant(_ context.Context, variantID int64) (*models.ProductVariant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stock, ok := f.variants[variantID]
	if !ok {
		return nil, notFound(EntityVariant, variantID)
	}
	return &models.ProductVariant{ID: variantID, Stock: stock}, nil
}

func (f *fakeStock) IncrementProductStock(_ context.Context, productID int64, quantity int, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrementCalls++
	if f.failAll || f.failProducts[productID] {
		return fmt.Errorf("stock update failed for product %d", productID)
	}
	if f.appliedKeys[key] {
		return nil
	}
	f.appliedKeys[key] = true
	f.products[productID] += quantity
	return nil
}

func (f *fakeStock) IncrementVariantStock(_ context.Context, variantID int64, quantity int, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrementCalls++
	if f.failAll {
		return fmt.Errorf("stock update failed for variant %d", variantID)
	}
	if f.appliedKeys[key] {
		return nil
	}
	f.appliedKeys[key] = true
	f.variants[variantID] += quantity
	return nil
}

type sentEmail struct {
	To       string
	Template string
	Data     map[string]any
}

// fakeNotifier records every channel; failing users fail every channel
type fakeNotifier struct {
	mu            sync.Mutex
	notifications []models.Notification
	pushes        []int64
	emails        []sentEmail
	failUsers     map[int64]bool
	pushErr       error
	emailErr      error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failUsers: make(map[int64]bool)}
}

func (f *fakeNotifier) CreateNotification(_ context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUsers[n.UserID] {
		return fmt.Errorf("insert notification for user %d failed", n.UserID)
	}
	n.ID = int64(len(f.notifications) + 1)
	f.notifications = append(f.notifications, *n)
	return nil
}

func (f *fakeNotifier) PushRealtime(_ context.Context, userID int64, _ *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	if f.failUsers[userID] {
		return fmt.Errorf("push to user %d failed", userID)
	}
	f.pushes = append(f.pushes, userID)
	return nil
}

func (f *fakeNotifier) SendEmail(_ context.Context, to, template string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emailErr != nil {
		return f.emailErr
	}
	f.emails = append(f.emails, sentEmail{To: to, Template: template, Data: data})
	return nil
}

func (f *fakeNotifier) notificationsFor(userID int64) []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, n := range f.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeNotifier) notificationsOfType(typ string) []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, n := range f.notifications {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeNotifier) emailCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emails)
}

// fakeEvents records published events
type fakeEvents struct {
	mu           sync.Mutex
	statusEvents []models.OrderStatusChangedEvent
	itemEvents   []models.OrderItemStatusChangedEvent
}

func (f *fakeEvents) PublishOrderStatusChanged(_ context.Context, event *models.OrderStatusChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusEvents = append(f.statusEvents, *event)
	return nil
}

func (f *fakeEvents) PublishOrderItemStatusChanged(_ context.Context, event *models.OrderItemStatusChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemEvents = append(f.itemEvents, *event)
	return nil
}

func (f *fakeEvents) statusEventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statusEvents)
}

func (f *fakeEvents) itemEventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.itemEvents)
}

// countingDispatcher records the tasks handed to a real dispatcher
type countingDispatcher struct {
	inner *worker.Dispatcher
	mu    sync.Mutex
	names []string
	// rejections makes the next n dispatches of a task name fail
	rejections map[string]int
}

func (c *countingDispatcher) Dispatch(ctx context.Context, task worker.Task) error {
	c.mu.Lock()
	c.names = append(c.names, task.Name)
	if c.rejections[task.Name] > 0 {
		c.rejections[task.Name]--
		c.mu.Unlock()
		return worker.ErrDispatcherClosed
	}
	c.mu.Unlock()
	return c.inner.Dispatch(ctx, task)
}

func (c *countingDispatcher) reject(name string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejections == nil {
		c.rejections = make(map[string]int)
	}
	c.rejections[name] = n
}

func (c *countingDispatcher) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.names {
		if v == name {
			n++
		}
	}
	return n
}

func (c *countingDispatcher) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.names)
}

// fakeLocker is a single-process lock table keyed by holder token
type fakeLocker struct {
	mu     sync.Mutex
	held   map[string]string
	next   int
	events []string
	// takeover simulates the lock expiring right after it is acquired and
	// another holder taking it.
	takeover bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (f *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return "", false, nil
	}
	f.next++
	token := fmt.Sprintf("token-%d", f.next)
	f.held[key] = token
	f.events = append(f.events, "acquire:"+key)
	if f.takeover {
		f.held[key] = "other-holder"
	}
	return token, true, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] != token {
		f.events = append(f.events, "not-held:"+key)
		return errors.New("lock not held")
	}
	delete(f.held, key)
	f.events = append(f.events, "release:"+key)
	return nil
}

const (
	buyerID  int64 = 7
	sellerA  int64 = 20
	sellerB  int64 = 21
	adminOne int64 = 90
	adminTwo int64 = 91
)

// harness wires an OrderService over the fakes and a real dispatcher
type harness struct {
	store      *fakeStore
	users      *fakeUsers
	wallets    *fakeWallets
	stock      *fakeStock
	notifier   *fakeNotifier
	events     *fakeEvents
	dispatcher *worker.Dispatcher
	tasks      *countingDispatcher
	svc        *OrderService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store: newFakeStore(),
		users: newFakeUsers(
			models.User{ID: buyerID, Email: "buyer@example.com", Name: "Buyer", Role: models.RoleBuyer},
			models.User{ID: sellerA, Email: "seller-a@example.com", Name: "Seller A", Role: models.RoleSeller},
			models.User{ID: sellerB, Email: "seller-b@example.com", Name: "Seller B", Role: models.RoleSeller},
			models.User{ID: adminOne, Email: "admin1@example.com", Name: "Admin One", Role: models.RoleAdmin},
			models.User{ID: adminTwo, Email: "admin2@example.com", Name: "Admin Two", Role: models.RoleAdmin},
		),
		wallets:  newFakeWallets(),
		stock:    newFakeStock(),
		notifier: newFakeNotifier(),
		events:   &fakeEvents{},
		dispatcher: worker.NewDispatcher(worker.DispatcherOptions{
			MaxAttempts: 3,
			TaskTimeout: time.Second,
			Logger:      zap.NewNop(),
		}),
	}
	h.tasks = &countingDispatcher{inner: h.dispatcher}
	h.svc = h.newService(nil)

	t.Cleanup(h.dispatcher.Wait)
	return h
}

func (h *harness) newService(locker OrderLocker) *OrderService {
	deps := Dependencies{
		Orders:       h.store,
		SellerOrders: h.store,
		Users:        h.users,
		Wallets:      h.wallets,
		Stock:        h.stock,
		Notifier:     h.notifier,
		Events:       h.events,
		Dispatcher:   h.tasks,
	}
	if locker != nil {
		deps.Locker = locker
	}
	return NewOrderService(deps)
}
