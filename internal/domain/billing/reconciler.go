package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medflow/medflow/internal/platform/intasend"
	"github.com/medflow/medflow/internal/platform/metrics"
)

var (
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrAuthentication   = errors.New("webhook signature verification failed")
	ErrPersistence      = errors.New("failed to persist webhook outcome")
	ErrNotConfigured    = errors.New("webhook secret not configured")
)

// HandlingResult describes what one callback did.
type HandlingResult struct {
	Outcome        WebhookStatus `json:"outcome"`
	State          string        `json:"state"`
	SubscriptionID *uuid.UUID    `json:"subscription_id,omitempty"`
	Duplicate      bool          `json:"duplicate,omitempty"`
	Message        string        `json:"message,omitempty"`
}

// Reconciler applies signed payment callbacks to subscriptions.
type Reconciler struct {
	subs    SubscriptionRepository
	logs    WebhookLogRepository
	secret  string
	period  time.Duration
	logger  zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewReconciler builds a Reconciler. period is the paid-access length granted on
// completion. m may be nil.
func NewReconciler(subs SubscriptionRepository, logs WebhookLogRepository, secret string, period time.Duration, logger zerolog.Logger, m *metrics.Collector) *Reconciler {
	return &Reconciler{
		subs:    subs,
		logs:    logs,
		secret:  secret,
		period:  period,
		logger:  logger.With().Str("component", "webhook_reconciler").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// HandleWebhook decodes, authenticates, logs and applies one callback. The
// audit row, once inserted, always ends in a terminal status.
func (r *Reconciler) HandleWebhook(ctx context.Context, raw []byte, signature string) (result *HandlingResult, err error) {
	payload, err := intasend.DecodeWebhook(raw)
	if err != nil {
		r.metrics.RecordWebhook("unknown", "malformed")
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	state := payload.Kind()
	log := r.logger.With().Str("invoice_id", payload.InvoiceID).Str("state", payload.State).Logger()

	if r.secret == "" {
		log.Error().Msg("webhook secret not configured")
		return nil, ErrNotConfigured
	}
	if !intasend.Verify(raw, r.secret, signature) {
		log.Warn().Bool("signature_present", signature != "").Msg("rejected webhook with invalid signature")
		r.metrics.RecordWebhook(state.String(), "rejected")
		return nil, ErrAuthentication
	}

	entry := &WebhookLog{
		Provider:  ProviderIntaSend,
		EventType: payload.State,
		Payload:   string(raw),
		Status:    WebhookPending,
	}
	if cerr := r.logs.Create(ctx, entry); cerr != nil {
		log.Error().Err(cerr).Msg("failed to record webhook log")
		entry = nil
	}

	result = &HandlingResult{State: state.String()}
	defer func() {
		p := recover()
		if p != nil {
			result, err = nil, fmt.Errorf("%w: panic: %v", ErrPersistence, p)
		}
		r.finish(ctx, log, entry, result, err)
		if p != nil {
			panic(p)
		}
	}()

	sub, err := r.subs.GetByTransactionID(ctx, payload.InvoiceID)
	if errors.Is(err, ErrNotFound) {
		result.Outcome = WebhookIgnored
		result.Message = "subscription not found for transaction id"
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup subscription: %v", ErrPersistence, err)
	}
	result.SubscriptionID = &sub.ID
	if entry != nil {
		entry.SubscriptionID = &sub.ID
		entry.UserID = &sub.UserID
	}

	switch state {
	case intasend.StateComplete:
		err = r.transition(ctx, sub, StatusActive, r.completeUpdate(payload), result)
	case intasend.StateFailed:
		err = r.transition(ctx, sub, StatusFailed, r.failedUpdate(payload), result)
	case intasend.StatePending:
		result.Outcome = WebhookProcessed
	default:
		result.Outcome = WebhookIgnored
		result.Message = fmt.Sprintf("unhandled payment state %q", payload.State)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Reconciler) completeUpdate(p *intasend.WebhookPayload) func(*Subscription) {
	return func(s *Subscription) {
		now := r.now().UTC()
		expires := now.Add(r.period)
		method := strings.ToLower(strings.TrimSpace(p.Provider))

		s.Status = StatusActive
		s.StartsAt = &now
		s.ExpiresAt = &expires
		if method != "" {
			s.PaymentMethod = &method
		}
		completedAt := p.UpdatedAt
		if completedAt == "" {
			completedAt = now.Format(time.RFC3339)
		}
		s.Metadata = s.Metadata.Merge(SubscriptionMetadata{
			MpesaReference: p.MpesaReference,
			CardType:       p.CardType,
			PaymentMethod:  method,
			NetAmount:      string(p.NetAmount),
			Charges:        string(p.Charges),
			CompletedAt:    completedAt,
		})
	}
}

func (r *Reconciler) failedUpdate(p *intasend.WebhookPayload) func(*Subscription) {
	return func(s *Subscription) {
		failedAt := p.UpdatedAt
		if failedAt == "" {
			failedAt = r.now().UTC().Format(time.RFC3339)
		}
		s.Status = StatusFailed
		s.Metadata = s.Metadata.Merge(SubscriptionMetadata{
			FailedReason: p.FailedReason,
			FailedAt:     failedAt,
		})
	}
}

// transition moves sub from pending to target. A row that already left pending
// is either a duplicate delivery (already at target) or a disallowed move.
func (r *Reconciler) transition(ctx context.Context, sub *Subscription, target SubscriptionStatus, apply func(*Subscription), result *HandlingResult) error {
	if sub.Status == StatusPending {
		updated := *sub
		apply(&updated)
		changed, err := r.subs.UpdateIfPending(ctx, &updated)
		if err != nil {
			return fmt.Errorf("%w: update subscription: %v", ErrPersistence, err)
		}
		if changed {
			*sub = updated
			result.Outcome = WebhookProcessed
			return nil
		}

		// Lost a race with a concurrent delivery; read what it wrote.
		current, err := r.subs.GetByID(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("%w: reload subscription: %v", ErrPersistence, err)
		}
		sub = current
	}

	if sub.Status == target {
		result.Outcome = WebhookProcessed
		result.Duplicate = true
		result.Message = fmt.Sprintf("duplicate delivery, subscription already %s", target)
		return nil
	}
	result.Outcome = WebhookIgnored
	result.Message = fmt.Sprintf("transition from %s to %s not allowed", sub.Status, target)
	return nil
}

// finish writes the terminal log status and emits the outcome.
func (r *Reconciler) finish(ctx context.Context, log zerolog.Logger, entry *WebhookLog, result *HandlingResult, err error) {
	outcome := WebhookFailed
	var msg string
	switch {
	case err != nil:
		msg = err.Error()
	case result != nil:
		outcome = result.Outcome
		msg = result.Message
	}

	r.metrics.RecordWebhook(payloadState(result, entry), string(outcome))
	ev := log.Info()
	if outcome == WebhookFailed {
		ev = log.Error().Err(err)
	}
	ev.Str("outcome", string(outcome)).Str("message", msg).Msg("webhook handled")

	if entry == nil {
		return
	}
	processedAt := r.now().UTC()
	entry.Status = outcome
	entry.ProcessedAt = &processedAt
	if msg != "" {
		entry.ErrorMessage = &msg
	}
	if ferr := r.logs.Finalize(context.WithoutCancel(ctx), entry); ferr != nil {
		log.Error().Err(ferr).Str("webhook_id", entry.ID.String()).Msg("failed to finalize webhook log")
	}
}

func payloadState(result *HandlingResult, entry *WebhookLog) string {
	if result != nil {
		return result.State
	}
	if entry != nil {
		return intasend.ParseState(entry.EventType).String()
	}
	return "unknown"
}
