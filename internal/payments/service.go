package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/paygate/internal/envelope"
	"github.com/congo-pay/paygate/internal/ledger"
	"github.com/congo-pay/paygate/internal/lock"
	"github.com/congo-pay/paygate/internal/logging"
	"github.com/congo-pay/paygate/internal/notification"
	"github.com/congo-pay/paygate/internal/provider"
	"github.com/congo-pay/paygate/internal/signer"
)

const (
	sweepBatch     = 100
	releaseTimeout = 5 * time.Second
)

// Deps lists the collaborators of the payment service.
type Deps struct {
	Repo       Repository
	Ledger     ledger.Ledger
	Locks      lock.Locker
	Providers  *provider.Registry
	Sealer     *envelope.Sealer
	Signer     *signer.Signer
	Notifier   notification.Notifier
	Logger     *slog.Logger
	Currency   string
	PendingTTL time.Duration
}

// Service drives a payment from creation through provider confirmation to
// settlement on the ledger.
type Service struct {
	repo       Repository
	ledger     ledger.Ledger
	locks      lock.Locker
	providers  *provider.Registry
	sealer     *envelope.Sealer
	signer     *signer.Signer
	notifier   notification.Notifier
	logger     *slog.Logger
	currency   string
	pendingTTL time.Duration

	now   func() time.Time
	newID func() string
}

// NewService constructs a payment service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Repo == nil:
		return nil, errors.New("payments: repository is required")
	case d.Ledger == nil:
		return nil, errors.New("payments: ledger is required")
	case d.Locks == nil:
		return nil, errors.New("payments: locker is required")
	case d.Providers == nil:
		return nil, errors.New("payments: provider registry is required")
	case d.Sealer == nil || d.Signer == nil:
		return nil, errors.New("payments: sealer and signer are required")
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Currency == "" {
		d.Currency = "USD"
	}
	if d.PendingTTL <= 0 {
		d.PendingTTL = 24 * time.Hour
	}
	return &Service{
		repo:       d.Repo,
		ledger:     d.Ledger,
		locks:      d.Locks,
		providers:  d.Providers,
		sealer:     d.Sealer,
		signer:     d.Signer,
		notifier:   d.Notifier,
		logger:     d.Logger,
		currency:   d.Currency,
		pendingTTL: d.PendingTTL,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// InitiateInput captures a client's request to pay. Amount is in minor units.
type InitiateInput struct {
	UID          string
	Kind         Kind
	Amount       int64
	ObligationID string
	Provider     string
	Phone        string
}

// InitiateResult is returned once the pending transaction is stored.
type InitiateResult struct {
	TransactionID string
	Kind          Kind
	Amount        int64
	Provider      string
	ChargeHandle  string
	Status        Status
	CreatedAt     time.Time
}

// Initiate validates the request, creates the provider charge and persists
// the encrypted pending transaction. A provider failure persists nothing.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	if in.UID == "" {
		return InitiateResult{}, errors.New("uid is required")
	}
	if !ValidAmount(in.Amount) {
		return InitiateResult{}, ErrInvalidAmount
	}

	switch in.Kind {
	case KindBalanceFunding:
		in.ObligationID = ""
	case KindObligationPayment:
		if err := s.checkObligation(ctx, in.UID, in.ObligationID, in.Amount); err != nil {
			return InitiateResult{}, err
		}
	default:
		return InitiateResult{}, ErrInvalidKind
	}

	p, err := s.providers.Get(in.Provider)
	if err != nil {
		return InitiateResult{}, err
	}

	rec := Record{
		TransactionID: s.newID(),
		UID:           in.UID,
		Kind:          in.Kind,
		Amount:        in.Amount,
		ObligationRef: in.ObligationID,
		CreatedAt:     s.now().UTC(),
		Provider:      p.Name(),
	}
	digest := s.signer.Sign(rec)

	charge, err := p.CreateCharge(ctx, provider.ChargeRequest{
		TransactionID: rec.TransactionID,
		Amount:        rec.Amount,
		Currency:      s.currency,
		Description:   describe(rec),
		Phone:         in.Phone,
	})
	if err != nil {
		return InitiateResult{}, &ProviderError{Provider: p.Name(), Err: err}
	}
	rec.ProviderRef = charge.Reference

	stored, err := s.seal(rec, digest)
	if err != nil {
		return InitiateResult{}, err
	}
	if err := s.repo.Create(ctx, stored); err != nil {
		return InitiateResult{}, fmt.Errorf("persist pending transaction: %w", err)
	}

	initiatedTotal.WithLabelValues(string(rec.Kind), rec.Provider).Inc()
	s.notify(ctx, rec.UID, notification.Event{
		Name: notification.EventTransactionInitiated,
		Data: map[string]any{
			"transaction_id": rec.TransactionID,
			"kind":           rec.Kind,
			"amount":         rec.Amount,
			"provider":       rec.Provider,
		},
	})

	return InitiateResult{
		TransactionID: rec.TransactionID,
		Kind:          rec.Kind,
		Amount:        rec.Amount,
		Provider:      rec.Provider,
		ChargeHandle:  charge.Handle,
		Status:        StatusPending,
		CreatedAt:     rec.CreatedAt,
	}, nil
}

func (s *Service) checkObligation(ctx context.Context, uid, obligationID string, amount int64) error {
	if obligationID == "" {
		return ErrObligationNotFound
	}
	o, err := s.ledger.Obligation(ctx, obligationID)
	if err != nil {
		return err
	}
	if err := o.CheckPayable(uid, amount); err != nil {
		return err
	}
	bal, err := s.ledger.Balance(ctx, uid)
	if err != nil {
		return err
	}
	if bal.Amount < amount {
		return ErrInsufficientFunds
	}
	return nil
}

// HandleEvent applies an authenticated provider event. It returns nil for
// every outcome the provider should not retry; ErrStoreUnavailable asks for a
// redelivery and ErrIntegrity reports a tampered record.
func (s *Service) HandleEvent(ctx context.Context, ev provider.Event) error {
	log := logging.FromContext(ctx, s.logger).With(
		slog.String("provider", ev.Provider),
		slog.String("provider_ref", ev.Reference),
	)

	switch ev.Outcome {
	case provider.OutcomeSucceeded:
		return s.settle(ctx, ev, log)
	case provider.OutcomeFailed:
		return s.fail(ctx, ev, log)
	default:
		log.Debug("ignoring non-terminal provider event", slog.String("outcome", string(ev.Outcome)))
		return nil
	}
}

func (s *Service) settle(ctx context.Context, ev provider.Event, log *slog.Logger) error {
	stored, rec, err := s.lookup(ctx, ev, log)
	if err != nil || stored == nil {
		return err
	}
	log = log.With(slog.String("transaction_id", rec.TransactionID))

	token, acquired, err := s.locks.Acquire(ctx, rec.TransactionID)
	if err != nil {
		log.Error("acquire processing lock", slog.Any("error", err))
		settlementsTotal.WithLabelValues(outcomeUnavailable).Inc()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !acquired {
		log.Debug("settlement already in progress")
		settlementsTotal.WithLabelValues(outcomeContended).Inc()
		return nil
	}
	defer s.release(ctx, rec.TransactionID, token, log)

	// A delivery that found the record before the winner deleted it ends here.
	if _, err := s.repo.Get(ctx, rec.TransactionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Debug("transaction already settled")
			settlementsTotal.WithLabelValues(outcomeDuplicate).Inc()
			return nil
		}
		settlementsTotal.WithLabelValues(outcomeUnavailable).Inc()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.settleLocked(ctx, rec, log)
}

// settleLocked moves the money for rec. The caller holds the processing lock
// and has seen the pending record.
func (s *Service) settleLocked(ctx context.Context, rec Record, log *slog.Logger) error {
	defer observeSince(time.Now())

	res, err := s.ledger.ApplySettlement(ctx, settlementFor(rec))
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		log.Info("ledger already holds this transaction")
		s.discard(ctx, rec.TransactionID, log)
		settlementsTotal.WithLabelValues(outcomeDuplicate).Inc()
		return nil
	case ledger.IsBusinessFailure(err):
		log.Warn("settlement rejected", slog.Any("error", err))
		s.discard(ctx, rec.TransactionID, log)
		settlementsTotal.WithLabelValues(outcomeRejected).Inc()
		s.notify(ctx, rec.UID, failedEvent(rec, err.Error()))
		return nil
	default:
		log.Error("apply settlement", slog.Any("error", err))
		settlementsTotal.WithLabelValues(outcomeUnavailable).Inc()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.discard(ctx, rec.TransactionID, log)
	settlementsTotal.WithLabelValues(outcomeSettled).Inc()
	log.Info("transaction settled", slog.Int64("amount", rec.Amount), slog.Int64("balance", res.Balance))
	s.notify(ctx, rec.UID, settledEvent(rec, res))
	return nil
}

func (s *Service) fail(ctx context.Context, ev provider.Event, log *slog.Logger) error {
	stored, rec, err := s.lookup(ctx, ev, log)
	if err != nil || stored == nil {
		return err
	}
	log = log.With(slog.String("transaction_id", rec.TransactionID))

	token, acquired, err := s.locks.Acquire(ctx, rec.TransactionID)
	if err != nil {
		settlementsTotal.WithLabelValues(outcomeUnavailable).Inc()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !acquired {
		log.Debug("transaction is being processed, ignoring failure event")
		settlementsTotal.WithLabelValues(outcomeContended).Inc()
		return nil
	}
	defer s.release(ctx, rec.TransactionID, token, log)

	if _, err := s.repo.Get(ctx, rec.TransactionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.failLocked(ctx, rec, ev.Reason, log)
	return nil
}

func (s *Service) failLocked(ctx context.Context, rec Record, reason string, log *slog.Logger) {
	if reason == "" {
		reason = "declined by provider"
	}
	log.Info("payment failed at provider", slog.String("reason", reason))
	s.notify(ctx, rec.UID, failedEvent(rec, reason))
	s.discard(ctx, rec.TransactionID, log)
	settlementsTotal.WithLabelValues(outcomeFailed).Inc()
}

// lookup resolves an event to its pending transaction. A nil record with a
// nil error means there is nothing to do.
func (s *Service) lookup(ctx context.Context, ev provider.Event, log *slog.Logger) (*StoredTransaction, Record, error) {
	stored, err := s.repo.FindByProviderRef(ctx, ev.Provider, ev.Reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info("no pending transaction for provider reference")
			settlementsTotal.WithLabelValues(outcomeUnknownRef).Inc()
			return nil, Record{}, nil
		}
		settlementsTotal.WithLabelValues(outcomeUnavailable).Inc()
		return nil, Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec, err := s.open(stored)
	if err != nil {
		log.Error("pending transaction failed integrity check",
			slog.String("transaction_id", stored.TransactionID), slog.Any("error", err))
		settlementsTotal.WithLabelValues(outcomeIntegrity).Inc()
		return nil, Record{}, err
	}
	return &stored, rec, nil
}

// TransactionStatus is the client-visible view of a pending transaction.
type TransactionStatus struct {
	TransactionID string
	Status        Status
	Kind          Kind
	Amount        int64
	Provider      string
	CreatedAt     time.Time
}

// Status reports a pending transaction owned by uid. Settled, failed and
// foreign transactions are all ErrNotFound.
func (s *Service) Status(ctx context.Context, uid, transactionID string) (TransactionStatus, error) {
	_, rec, err := s.loadOwned(ctx, uid, transactionID)
	if err != nil {
		return TransactionStatus{}, err
	}

	status := StatusPending
	held, err := s.locks.Held(ctx, transactionID)
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("check processing lock", slog.String("transaction_id", transactionID), slog.Any("error", err))
	} else if held {
		status = StatusProcessing
	}

	return TransactionStatus{
		TransactionID: rec.TransactionID,
		Status:        status,
		Kind:          rec.Kind,
		Amount:        rec.Amount,
		Provider:      rec.Provider,
		CreatedAt:     rec.CreatedAt,
	}, nil
}

// ReconcileResult reports what the provider said about a charge.
type ReconcileResult struct {
	TransactionID  string
	ProviderStatus provider.Outcome
}

// Reconcile asks the provider for the charge state and, if terminal, feeds it
// through the same path a webhook takes.
func (s *Service) Reconcile(ctx context.Context, uid, transactionID string) (ReconcileResult, error) {
	stored, _, err := s.loadOwned(ctx, uid, transactionID)
	if err != nil {
		return ReconcileResult{}, err
	}

	p, err := s.providers.Get(stored.Provider)
	if err != nil {
		return ReconcileResult{}, err
	}
	ev, err := p.Lookup(ctx, stored.ProviderRef)
	if err != nil {
		return ReconcileResult{}, &ProviderError{Provider: p.Name(), Err: err}
	}
	ev.Provider = p.Name()
	ev.Reference = stored.ProviderRef

	if ev.Outcome != provider.OutcomePending {
		if err := s.HandleEvent(ctx, ev); err != nil {
			return ReconcileResult{}, err
		}
	}
	return ReconcileResult{TransactionID: transactionID, ProviderStatus: ev.Outcome}, nil
}

// Sweep resolves pending transactions older than the pending TTL by asking
// their provider. Captured charges are settled, failed or cancelled ones are
// dropped, and charges the provider still holds open are kept for the next
// pass. It returns how many were resolved.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.pendingTTL)
	expired, err := s.repo.ListExpired(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	swept := 0
	for _, stored := range expired {
		ok, err := s.expire(ctx, stored)
		if err != nil {
			return swept, err
		}
		if ok {
			swept++
		}
	}
	return swept, nil
}

func (s *Service) expire(ctx context.Context, stored StoredTransaction) (bool, error) {
	log := s.logger.With(
		slog.String("transaction_id", stored.TransactionID),
		slog.String("provider", stored.Provider),
		slog.String("provider_ref", stored.ProviderRef),
	)

	token, acquired, err := s.locks.Acquire(ctx, stored.TransactionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !acquired {
		return false, nil
	}
	defer s.release(ctx, stored.TransactionID, token, log)

	if _, err := s.repo.Get(ctx, stored.TransactionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	rec, err := s.open(stored)
	if err != nil {
		log.Error("expired transaction failed integrity check", slog.Any("error", err))
		s.discard(ctx, stored.TransactionID, log)
		settlementsTotal.WithLabelValues(outcomeIntegrity).Inc()
		return true, nil
	}

	ev, err := s.chargeState(ctx, stored)
	if err != nil {
		log.Warn("could not resolve stale charge, keeping it", slog.Any("error", err))
		return false, nil
	}

	switch ev.Outcome {
	case provider.OutcomeSucceeded:
		log.Info("stale charge was captured, settling")
		if err := s.settleLocked(ctx, rec, log); err != nil {
			return false, err
		}
	case provider.OutcomeFailed:
		s.failLocked(ctx, rec, ev.Reason, log)
	default:
		log.Info("charge still open at provider, keeping it")
		return false, nil
	}
	return true, nil
}

// chargeState asks the provider where a stale charge stands, cancelling it
// when the provider supports that and the charge is still open.
func (s *Service) chargeState(ctx context.Context, stored StoredTransaction) (provider.Event, error) {
	p, err := s.providers.Get(stored.Provider)
	if err != nil {
		return provider.Event{}, err
	}
	ev, err := p.Lookup(ctx, stored.ProviderRef)
	if err != nil {
		return provider.Event{}, err
	}
	if ev.Outcome != provider.OutcomePending {
		return ev, nil
	}
	if c, ok := p.(provider.Canceller); ok {
		return c.Cancel(ctx, stored.ProviderRef)
	}
	return ev, nil
}

func (s *Service) loadOwned(ctx context.Context, uid, transactionID string) (StoredTransaction, Record, error) {
	stored, err := s.repo.Get(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StoredTransaction{}, Record{}, ErrNotFound
		}
		return StoredTransaction{}, Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec, err := s.open(stored)
	if err != nil {
		logging.FromContext(ctx, s.logger).Error("pending transaction failed integrity check",
			slog.String("transaction_id", transactionID), slog.Any("error", err))
		return StoredTransaction{}, Record{}, ErrNotFound
	}
	if rec.UID != uid {
		return StoredTransaction{}, Record{}, ErrNotFound
	}
	return stored, rec, nil
}

func (s *Service) seal(rec Record, digest []byte) (StoredTransaction, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return StoredTransaction{}, fmt.Errorf("encode pending transaction: %w", err)
	}
	env, err := s.sealer.Seal(plaintext, []byte(rec.TransactionID))
	if err != nil {
		return StoredTransaction{}, fmt.Errorf("seal pending transaction: %w", err)
	}
	return StoredTransaction{
		TransactionID: rec.TransactionID,
		Provider:      rec.Provider,
		ProviderRef:   rec.ProviderRef,
		Envelope:      env,
		Digest:        digest,
		CreatedAt:     rec.CreatedAt,
	}, nil
}

func (s *Service) open(stored StoredTransaction) (Record, error) {
	plaintext, err := s.sealer.Open(stored.Envelope, []byte(stored.TransactionID))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if rec.TransactionID != stored.TransactionID || rec.Provider != stored.Provider || rec.ProviderRef != stored.ProviderRef {
		return Record{}, fmt.Errorf("%w: routing columns do not match payload", ErrIntegrity)
	}
	if !s.signer.Verify(rec, stored.Digest) {
		return Record{}, fmt.Errorf("%w: digest mismatch", ErrIntegrity)
	}
	return rec, nil
}

func (s *Service) release(ctx context.Context, transactionID, token string, log *slog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.locks.Release(rctx, transactionID, token); err != nil {
		log.Warn("release processing lock", slog.Any("error", err))
	}
}

func (s *Service) discard(ctx context.Context, transactionID string, log *slog.Logger) {
	if err := s.repo.Delete(ctx, transactionID); err != nil {
		log.Warn("delete pending transaction", slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, uid string, ev notification.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, uid, ev); err != nil {
		logging.FromContext(ctx, s.logger).Warn("deliver notification",
			slog.String("event", ev.Name), slog.Any("error", err))
	}
}

func settlementFor(rec Record) ledger.Settlement {
	s := ledger.Settlement{
		TransactionID: rec.TransactionID,
		UID:           rec.UID,
		Amount:        rec.Amount,
		Description:   describe(rec),
	}
	if rec.Kind == KindObligationPayment {
		s.Direction = ledger.Debit
		s.ObligationID = rec.ObligationRef
	} else {
		s.Direction = ledger.Credit
	}
	return s
}

func describe(rec Record) string {
	if rec.Kind == KindObligationPayment {
		return "payment for obligation " + rec.ObligationRef
	}
	return "balance funding"
}

func settledEvent(rec Record, res ledger.SettlementResult) notification.Event {
	data := map[string]any{
		"transaction_id": rec.TransactionID,
		"amount":         rec.Amount,
		"balance":        res.Balance,
	}
	if rec.Kind == KindObligationPayment {
		data["obligation_id"] = rec.ObligationRef
		return notification.Event{Name: notification.EventObligationSettled, Data: data}
	}
	return notification.Event{Name: notification.EventFundingSettled, Data: data}
}

func failedEvent(rec Record, reason string) notification.Event {
	return notification.Event{
		Name: notification.EventPaymentFailed,
		Data: map[string]any{
			"transaction_id": rec.TransactionID,
			"kind":           rec.Kind,
			"reason":         reason,
		},
	}
}

func observeSince(start time.Time) {
	settlementDuration.Observe(time.Since(start).Seconds())
}
