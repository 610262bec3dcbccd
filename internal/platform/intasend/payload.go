package intasend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformed means a webhook body could not be decoded.
var ErrMalformed = errors.New("malformed webhook payload")

// State is the closed set of payment states the service acts on.
type State int

const (
	StateUnknown State = iota
	StatePending
	StateComplete
	StateFailed
)

// ParseState maps the provider's state string. PROCESSING is the provider's
// in-flight state and is treated as pending.
func ParseState(s string) State {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETE", "COMPLETED":
		return StateComplete
	case "FAILED":
		return StateFailed
	case "PENDING", "PROCESSING":
		return StatePending
	default:
		return StateUnknown
	}
}

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Amount is a decimal the provider sends either as a JSON string or number.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// WebhookPayload is the body of a payment state callback.
type WebhookPayload struct {
	InvoiceID      string `json:"invoice_id"`
	State          string `json:"state"`
	Provider       string `json:"provider"`
	Value          Amount `json:"value"`
	Charges        Amount `json:"charges"`
	NetAmount      Amount `json:"net_amount"`
	Account        string `json:"account"`
	APIRef         string `json:"api_ref"`
	MpesaReference string `json:"mpesa_reference,omitempty"`
	CardType       string `json:"card_type,omitempty"`
	FailedReason   string `json:"failed_reason,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Kind returns the parsed state.
func (p *WebhookPayload) Kind() State { return ParseState(p.State) }

// DecodeWebhook parses raw. A body without an invoice_id is malformed.
func DecodeWebhook(raw []byte) (*WebhookPayload, error) {
	// The body is stored verbatim in a text column, which only takes valid UTF-8.
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformed)
	}
	var p WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.InvoiceID = strings.TrimSpace(p.InvoiceID)
	if p.InvoiceID == "" {
		return nil, fmt.Errorf("%w: missing invoice_id", ErrMalformed)
	}
	return &p, nil
}
