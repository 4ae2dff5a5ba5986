package provider

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	CardName = "card"

	CardSignatureHeader = "Card-Signature"
	signatureTolerance  = 5 * time.Minute
)

// CardConfig holds credentials for the hosted-checkout card processor.
type CardConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Card talks to a hosted-checkout card processor: a charge is a checkout
// session whose URL the client opens to enter card details.
type Card struct {
	cfg    CardConfig
	client *httpClient
	now    func() time.Time
}

// NewCard builds the card adapter.
func NewCard(cfg CardConfig, opts ClientOptions, logger *slog.Logger) (*Card, error) {
	if cfg.BaseURL == "" || cfg.SecretKey == "" || cfg.WebhookSecret == "" {
		return nil, errors.New("card provider requires base url, secret key and webhook secret")
	}
	return &Card{
		cfg:    cfg,
		client: newHTTPClient(CardName, strings.TrimRight(cfg.BaseURL, "/"), opts, logger),
		now:    time.Now,
	}, nil
}

func (c *Card) Name() string { return CardName }

type checkoutSessionRequest struct {
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	ClientReference string `json:"client_reference_id"`
	Description     string `json:"description,omitempty"`
	SuccessURL      string `json:"success_url,omitempty"`
	CancelURL       string `json:"cancel_url,omitempty"`
}

type checkoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

func (c *Card) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if req.Amount <= 0 {
		return Charge{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	var session checkoutSession
	err := c.client.doJSON(ctx, http.MethodPost, "/v1/checkout/sessions", c.headers(req.TransactionID), checkoutSessionRequest{
		Amount:          req.Amount,
		Currency:        strings.ToLower(req.Currency),
		ClientReference: req.TransactionID,
		Description:     req.Description,
		SuccessURL:      c.cfg.SuccessURL,
		CancelURL:       c.cfg.CancelURL,
	}, &session)
	if err != nil {
		return Charge{}, err
	}
	if session.ID == "" {
		return Charge{}, errors.New("card provider returned an empty session id")
	}
	return Charge{Reference: session.ID, Handle: session.URL}, nil
}

type cardEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string `json:"id"`
			PaymentStatus string `json:"payment_status"`
			FailureReason string `json:"failure_reason"`
		} `json:"object"`
	} `json:"data"`
}

// ParseWebhook verifies "Card-Signature: t=<unix>,v1=<hex hmac-sha256(t.body)>".
func (c *Card) ParseWebhook(header http.Header, body []byte) (Event, error) {
	if err := c.verify(header.Get(CardSignatureHeader), body); err != nil {
		return Event{}, err
	}

	var evt cardEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("decode card event: %w", err)
	}

	out := Event{Provider: CardName, Reference: evt.Data.Object.ID, EventID: evt.ID}
	switch evt.Type {
	case "checkout.session.completed":
		if evt.Data.Object.PaymentStatus != "paid" {
			return out, ErrIgnoredEvent
		}
		out.Outcome = OutcomeSucceeded
	case "checkout.session.async_payment_succeeded":
		out.Outcome = OutcomeSucceeded
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		out.Outcome = OutcomeFailed
		out.Reason = evt.Data.Object.FailureReason
		if out.Reason == "" {
			out.Reason = strings.TrimPrefix(evt.Type, "checkout.session.")
		}
	default:
		return out, ErrIgnoredEvent
	}
	if out.Reference == "" {
		return Event{}, errors.New("card event without session id")
	}
	return out, nil
}

func (c *Card) Lookup(ctx context.Context, reference string) (Event, error) {
	var session checkoutSession
	path := "/v1/checkout/sessions/" + url.PathEscape(reference)
	if err := c.client.doJSON(ctx, http.MethodGet, path, c.headers(""), nil, &session); err != nil {
		return Event{}, err
	}
	return sessionEvent(reference, session), nil
}

// Cancel expires an open checkout session. A session that was already paid
// cannot be expired, so the current state is looked up instead.
func (c *Card) Cancel(ctx context.Context, reference string) (Event, error) {
	var session checkoutSession
	path := "/v1/checkout/sessions/" + url.PathEscape(reference) + "/expire"
	err := c.client.doJSON(ctx, http.MethodPost, path, c.headers("expire-"+reference), nil, &session)
	if errors.Is(err, ErrInvalidRequest) {
		return c.Lookup(ctx, reference)
	}
	if err != nil {
		return Event{}, err
	}
	return sessionEvent(reference, session), nil
}

func sessionEvent(reference string, session checkoutSession) Event {
	out := Event{Provider: CardName, Reference: reference, Outcome: OutcomePending}
	switch {
	case session.PaymentStatus == "paid":
		out.Outcome = OutcomeSucceeded
	case session.Status == "expired":
		out.Outcome = OutcomeFailed
		out.Reason = "expired"
	}
	return out
}

// Sign produces a Card-Signature header value for body at time ts.
func (c *Card) Sign(ts time.Time, body []byte) string {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := computeMAC(sha256.New, []byte(c.cfg.WebhookSecret), signedPayload(stamp, body))
	return fmt.Sprintf("t=%s,v1=%x", stamp, mac)
}

func (c *Card) verify(signature string, body []byte) error {
	var stamp string
	var candidates []string
	for _, part := range strings.Split(signature, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			stamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if stamp == "" || len(candidates) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := c.now().Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return ErrInvalidSignature
	}

	message := signedPayload(stamp, body)
	for _, candidate := range candidates {
		if verifyHexMAC(sha256.New, []byte(c.cfg.WebhookSecret), message, candidate) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (c *Card) headers(idempotencyKey string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", idempotencyKey)
	}
	return h
}

func signedPayload(stamp string, body []byte) []byte {
	out := make([]byte, 0, len(stamp)+1+len(body))
	out = append(out, stamp...)
	out = append(out, '.')
	return append(out, body...)
}
