package payments

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/paygate/internal/provider"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type fundRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Provider string          `json:"provider" validate:"omitempty,max=32"`
	Phone    string          `json:"phone" validate:"omitempty,min=6,max=20"`
}

type payObligationRequest struct {
	ObligationID string          `json:"obligation_id" validate:"required,max=128"`
	Amount       decimal.Decimal `json:"amount"`
	Provider     string          `json:"provider" validate:"omitempty,max=32"`
	Phone        string          `json:"phone" validate:"omitempty,min=6,max=20"`
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Fund starts a balance funding payment.
func (h *Handler) Fund(c *fiber.Ctx) error {
	var req fundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}
	return h.run(c, http.StatusCreated, Command{
		Name:     CommandFund,
		Amount:   req.Amount,
		Provider: req.Provider,
		Phone:    req.Phone,
	})
}

// PayObligation starts a payment for an obligation.
func (h *Handler) PayObligation(c *fiber.Ctx) error {
	var req payObligationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}
	return h.run(c, http.StatusCreated, Command{
		Name:         CommandPayObligation,
		ObligationID: req.ObligationID,
		Amount:       req.Amount,
		Provider:     req.Provider,
		Phone:        req.Phone,
	})
}

// Status reports a pending transaction.
func (h *Handler) Status(c *fiber.Ctx) error {
	return h.run(c, http.StatusOK, Command{Name: CommandTransactionStatus, TransactionID: c.Params("id")})
}

// Reconcile asks the provider about a pending transaction.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	return h.run(c, http.StatusAccepted, Command{Name: CommandReconcile, TransactionID: c.Params("id")})
}

func (h *Handler) run(c *fiber.Ctx, status int, cmd Command) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	cmd.UID = uid

	res, err := h.service.Handle(c.UserContext(), cmd)
	if err != nil {
		code, msg := StatusFor(err)
		return fiber.NewError(code, msg)
	}
	return c.Status(status).JSON(res)
}

// StatusFor maps a service error to an HTTP status code and client message.
func StatusFor(err error) (int, string) {
	var perr *ProviderError
	switch {
	case errors.As(err, &perr) && errors.Is(err, provider.ErrInvalidRequest):
		return http.StatusBadRequest, "provider rejected the request"
	case errors.As(err, &perr):
		return http.StatusBadGateway, "payment provider unavailable"
	case errors.Is(err, provider.ErrUnknownProvider),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidKind),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrAmountMismatch),
		errors.Is(err, ErrAlreadyPaid),
		errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotPayable):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, ErrObligationNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func validationFailed(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	fields := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error":  fmt.Sprintf("invalid request: %d field(s) failed validation", len(fields)),
		"fields": fields,
	})
}
