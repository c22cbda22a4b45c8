package httpapi

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/controller"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/extdata"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
)

type AttentionQueue interface {
	Open() []event.TransactionPayload
	Acknowledge(transactionID string) bool
}

type PaymentHandler struct {
	Controller *controller.Controller
	Repo       payment.Repository
	Attention  AttentionQueue
	Logger     logging.Logger
}

type CreateInstructionRequest struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" binding:"required"`
	PaymentMethod string          `json:"payment_method" binding:"required"`
	ExtendedData  map[string]any  `json:"extended_data"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type StatusUpdateRequest struct {
	State           string           `json:"state" binding:"required,oneof=SUCCESS FAILED"`
	ProcessedAmount *decimal.Decimal `json:"processed_amount"`
	ResponseCode    string           `json:"response_code"`
	ReasonCode      string           `json:"reason_code"`
	TrackingID      string           `json:"tracking_id"`
	Message         string           `json:"message"`
}

func (h *PaymentHandler) CreateInstruction(c *gin.Context) {
	var req CreateInstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data := extdata.New()
	keys := make([]string, 0, len(req.ExtendedData))
	for k := range req.ExtendedData {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		data.Set(k, req.ExtendedData[k])
	}

	instr := payment.NewInstruction(req.ID, req.Amount, req.Currency, req.PaymentMethod, data)
	res, err := h.Controller.CreatePaymentInstruction(c.Request.Context(), instr)
	if err != nil {
		h.fail(c, err)
		return
	}

	if res.IsSuccess() {
		c.JSON(http.StatusCreated, newResultView(res))
		return
	}
	h.render(c, res)
}

func (h *PaymentHandler) GetInstruction(c *gin.Context) {
	instr, err := h.Repo.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, payment.ErrInstructionNotFound) {
			err = apperrors.NotFound("payment instruction %s does not exist", c.Param("id"))
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newInstructionView(instr))
}

// withAmount binds an amount body and runs op against the :id path
// parameter.
func (h *PaymentHandler) withAmount(op func(c *gin.Context, id string, amount decimal.Decimal) (*controller.Result, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AmountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := op(c, c.Param("id"), req.Amount)
		if err != nil {
			h.fail(c, err)
			return
		}
		h.render(c, res)
	}
}

func (h *PaymentHandler) Approve() gin.HandlerFunc {
	return h.withAmount(func(c *gin.Context, id string, amount decimal.Decimal) (*controller.Result, error) {
		return h.Controller.Approve(c.Request.Context(), id, amount)
	})
}

func (h *PaymentHandler) ApproveAndDeposit() gin.HandlerFunc {
	return h.withAmount(func(c *gin.Context, id string, amount decimal.Decimal) (*controller.Result, error) {
		return h.Controller.ApproveAndDeposit(c.Request.Context(), id, amount)
	})
}

func (h *PaymentHandler) Deposit() gin.HandlerFunc {
	return h.withAmount(func(c *gin.Context, id string, amount decimal.Decimal) (*controller.Result, error) {
		return h.Controller.Deposit(c.Request.Context(), id, amount)
	})
}

func (h *PaymentHandler) ReverseApproval() gin.HandlerFunc {
	return h.withAmount(func(c *gin.Context, id string, amount decimal.Decimal) (*controller.Result, error) {
		return h.Controller.ReverseApproval(c.Request.Context(), id, amount)
	})
}

func (h *PaymentHandler) ReverseDeposit() gin.HandlerFunc {
	return h.withAmount(func(c *gin.Context, id string, amount decimal.Decimal) (*controller.Result, error) {
		return h.Controller.ReverseDeposit(c.Request.Context(), id, amount)
	})
}

func (h *PaymentHandler) Credit() gin.HandlerFunc {
	return h.withAmount(func(c *gin.Context, id string, amount decimal.Decimal) (*controller.Result, error) {
		return h.Controller.Credit(c.Request.Context(), id, amount)
	})
}

func (h *PaymentHandler) ReverseCredit() gin.HandlerFunc {
	return h.withAmount(func(c *gin.Context, id string, amount decimal.Decimal) (*controller.Result, error) {
		return h.Controller.ReverseCredit(c.Request.Context(), id, amount)
	})
}

func (h *PaymentHandler) Resume(c *gin.Context) {
	res, err := h.Controller.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, res)
}

func (h *PaymentHandler) UpdateStatus(c *gin.Context) {
	var req StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update := controller.StatusUpdate{
		State:        payment.TransactionState(req.State),
		ResponseCode: req.ResponseCode,
		ReasonCode:   req.ReasonCode,
		TrackingID:   req.TrackingID,
		Message:      req.Message,
	}
	if req.ProcessedAmount != nil {
		update.ProcessedAmount = *req.ProcessedAmount
	}

	res, err := h.Controller.UpdateTransactionStatus(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, res)
}

func (h *PaymentHandler) ListAttention(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"transactions": h.Attention.Open()})
}

func (h *PaymentHandler) AcknowledgeAttention(c *gin.Context) {
	if !h.Attention.Acknowledge(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open review for transaction " + c.Param("id")})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *PaymentHandler) render(c *gin.Context, res *controller.Result) {
	c.JSON(statusCode(res.Status()), newResultView(res))
}

func statusCode(s controller.Status) int {
	switch s {
	case controller.StatusSuccess:
		return http.StatusOK
	case controller.StatusPending:
		return http.StatusAccepted
	case controller.StatusFailed:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func (h *PaymentHandler) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperrors.KindArgument, apperrors.KindValidation:
			code = http.StatusBadRequest
		case apperrors.KindNotFound:
			code = http.StatusNotFound
		case apperrors.KindInvalidState, apperrors.KindConflict:
			code = http.StatusConflict
		case apperrors.KindConfiguration:
			code = http.StatusUnprocessableEntity
		}
	}

	if code == http.StatusInternalServerError {
		if h.Logger != nil {
			h.Logger.Error("request failed", map[string]any{
				"path":  c.FullPath(),
				"error": err,
			})
		}
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": err.Error()}
	if appErr != nil {
		body["kind"] = string(appErr.Kind)
	}
	c.JSON(code, body)
}
