package billing

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the lifecycle state of a paid-access period.
type SubscriptionStatus string

const (
	StatusPending SubscriptionStatus = "pending"
	StatusActive  SubscriptionStatus = "active"
	StatusFailed  SubscriptionStatus = "failed"
	StatusExpired SubscriptionStatus = "expired"
)

// WebhookStatus is the processing state of one logged callback.
type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "pending"
	WebhookProcessed WebhookStatus = "processed"
	WebhookIgnored   WebhookStatus = "ignored"
	WebhookFailed    WebhookStatus = "failed"
)

const (
	ProviderIntaSend = "intasend"
	PlanMonthly      = "monthly"
)

// SubscriptionMetadata holds provider reconciliation fields. Every named field
// is optional; Extra carries anything else.
type SubscriptionMetadata struct {
	APIRef            string         `json:"api_ref,omitempty"`
	CheckoutURL       string         `json:"checkout_url,omitempty"`
	CheckoutSignature string         `json:"checkout_signature,omitempty"`
	MpesaReference    string         `json:"mpesa_reference,omitempty"`
	CardType          string         `json:"card_type,omitempty"`
	PaymentMethod     string         `json:"payment_method,omitempty"`
	NetAmount         string         `json:"net_amount,omitempty"`
	Charges           string         `json:"charges,omitempty"`
	CompletedAt       string         `json:"completed_at,omitempty"`
	FailedReason      string         `json:"failed_reason,omitempty"`
	FailedAt          string         `json:"failed_at,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Merge returns m with every set field of in applied. Unset fields of in never
// clear a recorded value; Extra merges key by key.
func (m SubscriptionMetadata) Merge(in SubscriptionMetadata) SubscriptionMetadata {
	out := m
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.APIRef, in.APIRef)
	set(&out.CheckoutURL, in.CheckoutURL)
	set(&out.CheckoutSignature, in.CheckoutSignature)
	set(&out.MpesaReference, in.MpesaReference)
	set(&out.CardType, in.CardType)
	set(&out.PaymentMethod, in.PaymentMethod)
	set(&out.NetAmount, in.NetAmount)
	set(&out.Charges, in.Charges)
	set(&out.CompletedAt, in.CompletedAt)
	set(&out.FailedReason, in.FailedReason)
	set(&out.FailedAt, in.FailedAt)

	if len(in.Extra) > 0 {
		extra := make(map[string]any, len(m.Extra)+len(in.Extra))
		for k, v := range m.Extra {
			extra[k] = v
		}
		for k, v := range in.Extra {
			extra[k] = v
		}
		out.Extra = extra
	}
	return out
}

// Subscription maps to the subscriptions table.
type Subscription struct {
	ID              uuid.UUID            `db:"id" json:"id"`
	UserID          uuid.UUID            `db:"user_id" json:"user_id"`
	Status          SubscriptionStatus   `db:"status" json:"status"`
	PlanType        string               `db:"plan_type" json:"plan_type"`
	Amount          float64              `db:"amount" json:"amount"`
	Currency        string               `db:"currency" json:"currency"`
	PaymentProvider string               `db:"payment_provider" json:"payment_provider"`
	PaymentMethod   *string              `db:"payment_method" json:"payment_method,omitempty"`
	TransactionID   string               `db:"transaction_id" json:"transaction_id"`
	StartsAt        *time.Time           `db:"starts_at" json:"starts_at,omitempty"`
	ExpiresAt       *time.Time           `db:"expires_at" json:"expires_at,omitempty"`
	Metadata        SubscriptionMetadata `db:"metadata" json:"metadata"`
	CreatedAt       time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time            `db:"updated_at" json:"updated_at"`
}

// GrantsAccess reports whether the subscription is active and unexpired at now.
func (s *Subscription) GrantsAccess(now time.Time) bool {
	return s.Status == StatusActive && s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// WebhookLog is the audit row written for every authenticated callback.
type WebhookLog struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	Provider       string        `db:"provider" json:"provider"`
	EventType      string        `db:"event_type" json:"event_type"`
	Payload        string        `db:"payload" json:"payload"`
	Status         WebhookStatus `db:"status" json:"status"`
	ErrorMessage   *string       `db:"error_message" json:"error_message,omitempty"`
	ProcessedAt    *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
	SubscriptionID *uuid.UUID    `db:"subscription_id" json:"subscription_id,omitempty"`
	UserID         *uuid.UUID    `db:"user_id" json:"user_id,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}
