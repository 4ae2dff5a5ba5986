// Package provider adapts external payment processors behind one interface.
package provider

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"sort"
)

var (
	ErrUnknownProvider  = errors.New("unknown payment provider")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidRequest means the provider (or its adapter) rejected the
	// charge parameters; retrying the same request will not help.
	ErrInvalidRequest = errors.New("invalid payment request")
	// ErrIgnoredEvent is returned for authentic webhook events that carry no
	// terminal payment outcome.
	ErrIgnoredEvent = errors.New("webhook event ignored")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("payment provider unavailable")
)

// Outcome is the provider's view of a charge.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// ChargeRequest carries what a provider needs to start collecting a payment.
// Amount is in minor units.
type ChargeRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	Description   string
	Phone         string
}

// Charge identifies a created charge. Reference is the provider's id used to
// correlate webhooks; Handle is what the client needs to complete payment
// (a checkout URL or a collection reference).
type Charge struct {
	Reference string
	Handle    string
}

// Event is a normalized, authenticated payment notification.
type Event struct {
	Provider  string
	Reference string
	EventID   string
	Outcome   Outcome
	Reason    string
}

// Provider is implemented by every payment rail.
type Provider interface {
	Name() string
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	// ParseWebhook authenticates and decodes a webhook delivery.
	ParseWebhook(header http.Header, body []byte) (Event, error)
	// Lookup asks the provider for the current state of a charge.
	Lookup(ctx context.Context, reference string) (Event, error)
}

// Canceller is implemented by providers that can void a charge the payer
// never completed. Cancel reports the charge state afterwards: a charge
// captured before the cancellation landed comes back as succeeded.
type Canceller interface {
	Cancel(ctx context.Context, reference string) (Event, error)
}

// Registry resolves providers by name.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry builds a registry; fallback names the provider used when a
// request does not pick one.
func NewRegistry(fallback string, providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers)), fallback: fallback}
	for _, p := range providers {
		if _, dup := r.providers[p.Name()]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Name())
		}
		r.providers[p.Name()] = p
	}
	if _, ok := r.providers[fallback]; !ok {
		return nil, fmt.Errorf("default provider %q is not enabled", fallback)
	}
	return r, nil
}

// Get returns the named provider, or the default one for an empty name.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.fallback
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Default returns the name of the default provider.
func (r *Registry) Default() string { return r.fallback }

// Names lists the enabled providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func verifyHexMAC(newHash func() hash.Hash, secret []byte, message []byte, signature string) bool {
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(given, computeMAC(newHash, secret, message))
}

func computeMAC(newHash func() hash.Hash, secret []byte, message []byte) []byte {
	mac := hmac.New(newHash, secret)
	mac.Write(message)
	return mac.Sum(nil)
}
