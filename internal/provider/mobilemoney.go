package provider

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MobileMoneyName = "momo"

	MobileMoneySignatureHeader = "X-Signature"
	mobileMoneyAPIKeyHeader    = "X-Api-Key"
)

// MobileMoneyConfig holds credentials for the mobile-money collection API.
type MobileMoneyConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

// MobileMoney requests a collection from the payer's wallet; the payer
// approves it on their handset and the rail calls back.
type MobileMoney struct {
	cfg    MobileMoneyConfig
	client *httpClient
}

// NewMobileMoney builds the mobile-money adapter.
func NewMobileMoney(cfg MobileMoneyConfig, opts ClientOptions, logger *slog.Logger) (*MobileMoney, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.WebhookSecret == "" {
		return nil, errors.New("mobile money provider requires base url, api key and webhook secret")
	}
	return &MobileMoney{
		cfg:    cfg,
		client: newHTTPClient(MobileMoneyName, strings.TrimRight(cfg.BaseURL, "/"), opts, logger),
	}, nil
}

func (m *MobileMoney) Name() string { return MobileMoneyName }

type collectionRequest struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	Payer       struct {
		Phone string `json:"phone"`
	} `json:"payer"`
}

type collection struct {
	EventID      string `json:"event_id"`
	CollectionID string `json:"collection_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
}

func (m *MobileMoney) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return Charge{}, fmt.Errorf("%w: phone number is required for mobile money", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return Charge{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	body := collectionRequest{
		Reference:   req.TransactionID,
		Amount:      MajorUnits(req.Amount),
		Currency:    strings.ToUpper(req.Currency),
		Description: req.Description,
	}
	body.Payer.Phone = req.Phone

	var resp collection
	if err := m.client.doJSON(ctx, http.MethodPost, "/v1/collections", m.headers(req.TransactionID), body, &resp); err != nil {
		return Charge{}, err
	}
	if resp.CollectionID == "" {
		return Charge{}, errors.New("mobile money provider returned an empty collection id")
	}
	return Charge{Reference: resp.CollectionID, Handle: resp.CollectionID}, nil
}

// ParseWebhook verifies "X-Signature: <hex hmac-sha512(body)>".
func (m *MobileMoney) ParseWebhook(header http.Header, body []byte) (Event, error) {
	if !verifyHexMAC(sha512.New, []byte(m.cfg.WebhookSecret), body, header.Get(MobileMoneySignatureHeader)) {
		return Event{}, ErrInvalidSignature
	}

	var c collection
	if err := json.Unmarshal(body, &c); err != nil {
		return Event{}, fmt.Errorf("decode collection event: %w", err)
	}
	if c.CollectionID == "" {
		return Event{}, errors.New("collection event without collection id")
	}
	out := m.toEvent(c)
	if out.Outcome == OutcomePending {
		return out, ErrIgnoredEvent
	}
	return out, nil
}

func (m *MobileMoney) Lookup(ctx context.Context, reference string) (Event, error) {
	var c collection
	path := "/v1/collections/" + url.PathEscape(reference)
	if err := m.client.doJSON(ctx, http.MethodGet, path, m.headers(""), nil, &c); err != nil {
		return Event{}, err
	}
	c.CollectionID = reference
	return m.toEvent(c), nil
}

// Sign returns the X-Signature header value for body.
func (m *MobileMoney) Sign(body []byte) string {
	return hex.EncodeToString(computeMAC(sha512.New, []byte(m.cfg.WebhookSecret), body))
}

func (m *MobileMoney) toEvent(c collection) Event {
	out := Event{Provider: MobileMoneyName, Reference: c.CollectionID, EventID: c.EventID, Outcome: OutcomePending}
	switch strings.ToUpper(c.Status) {
	case "SUCCESSFUL":
		out.Outcome = OutcomeSucceeded
	case "FAILED", "REJECTED", "EXPIRED":
		out.Outcome = OutcomeFailed
		out.Reason = c.Reason
		if out.Reason == "" {
			out.Reason = strings.ToLower(c.Status)
		}
	}
	return out
}

func (m *MobileMoney) headers(idempotencyKey string) http.Header {
	h := http.Header{}
	h.Set(mobileMoneyAPIKeyHeader, m.cfg.APIKey)
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", idempotencyKey)
	}
	return h
}

// MajorUnits renders a minor-unit amount with two decimals, e.g. 2550 -> "25.50".
func MajorUnits(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
