package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medflow/medflow/internal/platform/intasend"
)

// -- Mock Repositories --

type mockSubRepo struct {
	mu        sync.Mutex
	store     map[uuid.UUID]*Subscription
	updateErr error
	updates   int
}

func newMockSubRepo() *mockSubRepo {
	return &mockSubRepo{store: make(map[uuid.UUID]*Subscription)}
}

func (m *mockSubRepo) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	cp := *sub
	m.store[sub.ID] = &cp
	return nil
}

func (m *mockSubRepo) GetByID(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSubRepo) GetByTransactionID(_ context.Context, transactionID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.store {
		if s.TransactionID == transactionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockSubRepo) LatestForUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Subscription
	for _, s := range m.store {
		if s.UserID == userID && (latest == nil || s.CreatedAt.After(latest.CreatedAt)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *mockSubRepo) ActiveForUser(_ context.Context, userID uuid.UUID, at time.Time) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.store {
		if s.UserID == userID && s.GrantsAccess(at) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockSubRepo) UpdateIfPending(_ context.Context, sub *Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return false, m.updateErr
	}
	cur, ok := m.store[sub.ID]
	if !ok || cur.Status != StatusPending {
		return false, nil
	}
	m.updates++
	cp := *sub
	m.store[sub.ID] = &cp
	return true, nil
}

type mockLogRepo struct {
	mu        sync.Mutex
	rows      []*WebhookLog
	createErr error
}

func newMockLogRepo() *mockLogRepo { return &mockLogRepo{} }

func (m *mockLogRepo) Create(_ context.Context, l *WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	l.ID = uuid.New()
	l.CreatedAt = time.Now()
	cp := *l
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *mockLogRepo) Finalize(_ context.Context, l *WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range m.rows {
		if row.ID == l.ID {
			cp := *l
			m.rows[i] = &cp
			return nil
		}
	}
	return errors.New("not found")
}

func (m *mockLogRepo) List(_ context.Context, limit, offset int) ([]*WebhookLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := append([]*WebhookLog(nil), m.rows...)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func (m *mockLogRepo) statuses() []WebhookStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WebhookStatus, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.Status
	}
	return out
}

type mockProvider struct {
	last intasend.CheckoutRequest
	err  error
}

func (p *mockProvider) CreateCheckout(_ context.Context, req intasend.CheckoutRequest) (*intasend.Checkout, error) {
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &intasend.Checkout{ID: "CHK-" + req.APIRef, URL: "https://pay.example/" + req.APIRef, Signature: "sig", APIRef: req.APIRef}, nil
}

const testSecret = "whsec_test_secret"

var testPlan = Plan{
	Type:        PlanMonthly,
	Price:       2000,
	Currency:    "KES",
	Period:      30 * 24 * time.Hour,
	RedirectURL: "http://localhost:3000/payment/success",
}

func newTestReconciler() (*Reconciler, *mockSubRepo, *mockLogRepo) {
	subs := newMockSubRepo()
	logs := newMockLogRepo()
	r := NewReconciler(subs, logs, testSecret, testPlan.Period, zerolog.Nop(), nil)
	return r, subs, logs
}

func newTestService() (*Service, *mockSubRepo, *mockLogRepo, *mockProvider) {
	subs := newMockSubRepo()
	logs := newMockLogRepo()
	p := &mockProvider{}
	return NewService(subs, logs, p, testPlan, zerolog.Nop()), subs, logs, p
}

func seedPending(t testing.TB, subs *mockSubRepo, transactionID string) *Subscription {
	sub := &Subscription{
		UserID:          uuid.New(),
		Status:          StatusPending,
		PlanType:        PlanMonthly,
		Amount:          2000,
		Currency:        "KES",
		PaymentProvider: ProviderIntaSend,
		TransactionID:   transactionID,
		Metadata:        SubscriptionMetadata{APIRef: "SUB_abc_1", CheckoutURL: "https://pay.example/x"},
	}
	t.Helper()
	if err := subs.Create(context.Background(), sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}
