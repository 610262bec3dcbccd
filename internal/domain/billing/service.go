package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medflow/medflow/internal/platform/intasend"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrSubscriptionRequired = errors.New("active subscription required")
	ErrCheckoutUnavailable  = errors.New("checkout provider unavailable")
)

// CheckoutProvider creates hosted checkout sessions. *intasend.Client satisfies it.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, req intasend.CheckoutRequest) (*intasend.Checkout, error)
}

// Plan describes the single paid plan.
type Plan struct {
	Type        string
	Price       int
	Currency    string
	Period      time.Duration
	RedirectURL string
}

// CheckoutRequest is the body of POST /payments/checkout.
type CheckoutRequest struct {
	Email       string `json:"email" validate:"required,email"`
	FullName    string `json:"full_name" validate:"max=200"`
	PhoneNumber string `json:"phone_number" validate:"max=20"`
}

// CheckoutSession is returned to the client after a successful checkout.
type CheckoutSession struct {
	CheckoutURL    string    `json:"checkout_url"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	APIRef         string    `json:"api_ref"`
}

// Service provides business logic for subscriptions and checkout.
type Service struct {
	subs     SubscriptionRepository
	logs     WebhookLogRepository
	provider CheckoutProvider
	plan     Plan
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a new billing service.
func NewService(subs SubscriptionRepository, logs WebhookLogRepository, provider CheckoutProvider, plan Plan, logger zerolog.Logger) *Service {
	return &Service{
		subs:     subs,
		logs:     logs,
		provider: provider,
		plan:     plan,
		validate: validator.New(),
		logger:   logger.With().Str("component", "billing").Logger(),
		now:      time.Now,
	}
}

// apiRef correlates a checkout with later callbacks.
func apiRef(userID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("SUB_%s_%d", userID.String()[:8], at.UnixMilli())
}

// splitName returns the first word and the rest.
func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// CreateCheckout opens a provider checkout and records it as a pending subscription.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, req CheckoutRequest) (*CheckoutSession, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := s.now().UTC()
	ref := apiRef(userID, now)
	first, last := splitName(req.FullName)

	checkout, err := s.provider.CreateCheckout(ctx, intasend.CheckoutRequest{
		Amount:      s.plan.Price,
		Currency:    s.plan.Currency,
		Email:       req.Email,
		FirstName:   first,
		LastName:    last,
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		RedirectURL: s.plan.RedirectURL,
		APIRef:      ref,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	sub := &Subscription{
		UserID:          userID,
		Status:          StatusPending,
		PlanType:        s.plan.Type,
		Amount:          float64(s.plan.Price),
		Currency:        s.plan.Currency,
		PaymentProvider: ProviderIntaSend,
		TransactionID:   checkout.ID,
		Metadata: SubscriptionMetadata{
			APIRef:            ref,
			CheckoutURL:       checkout.URL,
			CheckoutSignature: checkout.Signature,
		},
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID.String()).
		Str("subscription_id", sub.ID.String()).
		Str("transaction_id", checkout.ID).
		Msg("checkout created")

	return &CheckoutSession{CheckoutURL: checkout.URL, SubscriptionID: sub.ID, APIRef: ref}, nil
}

// CurrentSubscription returns the user's latest subscription.
func (s *Service) CurrentSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.subs.LatestForUser(ctx, userID)
}

// HasActiveAccess reports whether the user holds an unexpired active subscription.
func (s *Service) HasActiveAccess(ctx context.Context, userID uuid.UUID) (bool, error) {
	sub, err := s.subs.ActiveForUser(ctx, userID, s.now())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.GrantsAccess(s.now()), nil
}

// ListWebhookLogs returns the audit log, newest first.
func (s *Service) ListWebhookLogs(ctx context.Context, limit, offset int) ([]*WebhookLog, int, error) {
	return s.logs.List(ctx, limit, offset)
}
