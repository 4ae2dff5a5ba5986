package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

const (
	SandboxName = "sandbox"

	SandboxSignatureHeader = "X-Sandbox-Signature"
)

// Sandbox simulates a processor in-process. Charges are always created;
// outcomes arrive through signed webhooks, Resolve, or auto-approval.
type Sandbox struct {
	secret      []byte
	autoApprove bool

	mu       sync.Mutex
	outcomes map[string]Event
}

// NewSandbox builds the sandbox provider.
func NewSandbox(webhookSecret string, autoApprove bool) (*Sandbox, error) {
	if webhookSecret == "" {
		return nil, errors.New("sandbox provider requires a webhook secret")
	}
	return &Sandbox{secret: []byte(webhookSecret), autoApprove: autoApprove, outcomes: make(map[string]Event)}, nil
}

func (s *Sandbox) Name() string { return SandboxName }

func (s *Sandbox) CreateCharge(_ context.Context, req ChargeRequest) (Charge, error) {
	if req.Amount <= 0 {
		return Charge{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	ref := "sbx_" + uuid.NewString()
	return Charge{Reference: ref, Handle: "sandbox://checkout/" + ref}, nil
}

// SandboxEvent is the webhook body accepted by the sandbox provider.
type SandboxEvent struct {
	EventID   string `json:"event_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Sandbox) ParseWebhook(header http.Header, body []byte) (Event, error) {
	if !verifyHexMAC(sha256.New, s.secret, body, header.Get(SandboxSignatureHeader)) {
		return Event{}, ErrInvalidSignature
	}
	var evt SandboxEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("decode sandbox event: %w", err)
	}
	if evt.Reference == "" {
		return Event{}, errors.New("sandbox event without reference")
	}

	out := Event{Provider: SandboxName, Reference: evt.Reference, EventID: evt.EventID, Reason: evt.Reason}
	switch Outcome(evt.Status) {
	case OutcomeSucceeded, OutcomeFailed:
		out.Outcome = Outcome(evt.Status)
	default:
		return out, ErrIgnoredEvent
	}
	return out, nil
}

func (s *Sandbox) Lookup(_ context.Context, reference string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt, ok := s.outcomes[reference]; ok {
		return evt, nil
	}
	out := Event{Provider: SandboxName, Reference: reference, Outcome: OutcomePending}
	if s.autoApprove {
		out.Outcome = OutcomeSucceeded
	}
	return out, nil
}

// Cancel voids an unresolved charge. Resolved charges keep their outcome.
func (s *Sandbox) Cancel(_ context.Context, reference string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt, ok := s.outcomes[reference]; ok {
		return evt, nil
	}
	out := Event{Provider: SandboxName, Reference: reference, Outcome: OutcomeFailed, Reason: "expired"}
	if s.autoApprove {
		out = Event{Provider: SandboxName, Reference: reference, Outcome: OutcomeSucceeded}
	}
	s.outcomes[reference] = out
	return out, nil
}

// Resolve fixes the outcome Lookup reports for reference.
func (s *Sandbox) Resolve(reference string, outcome Outcome, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[reference] = Event{Provider: SandboxName, Reference: reference, Outcome: outcome, Reason: reason}
}

// Sign returns the X-Sandbox-Signature header value for body.
func (s *Sandbox) Sign(body []byte) string {
	return hex.EncodeToString(computeMAC(sha256.New, s.secret, body))
}
