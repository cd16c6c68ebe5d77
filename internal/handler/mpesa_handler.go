package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/shule-api/internal/service"
	"github.com/noah-isme/shule-api/pkg/mpesa"
)

type mpesaCallbackService interface {
	HandleSTKCallback(ctx context.Context, cb mpesa.STKCallback) (*service.CallbackOutcome, error)
	HandleC2BConfirmation(ctx context.Context, conf mpesa.C2BConfirmation) (*service.CallbackOutcome, error)
}

// MpesaHandler receives Daraja webhooks. Every endpoint acknowledges the
// provider regardless of processing outcome: Daraja retries on non-2xx
// responses and money has already moved by the time a callback arrives,
// so failures are logged and resolved by reconciliation instead.
type MpesaHandler struct {
	payments mpesaCallbackService
	logger   *zap.Logger
}

// NewMpesaHandler constructs handler.
func NewMpesaHandler(payments mpesaCallbackService, logger *zap.Logger) *MpesaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MpesaHandler{payments: payments, logger: logger}
}

func ack(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// STKCallback godoc
// @Summary Daraja STK push result callback
// @Tags Mpesa
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /mpesa/callback [post]
func (h *MpesaHandler) STKCallback(c *gin.Context) {
	var cb mpesa.STKCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		h.logger.Warn("malformed STK callback", zap.Error(err))
		ack(c)
		return
	}

	outcome, err := h.payments.HandleSTKCallback(c.Request.Context(), cb)
	if err != nil {
		h.logger.Error("STK callback processing failed",
			zap.String("checkout_request_id", cb.Body.StkCallback.CheckoutRequestID),
			zap.Error(err))
		ack(c)
		return
	}
	if !outcome.Ignored {
		h.logger.Info("STK callback processed",
			zap.String("payment_id", outcome.PaymentID),
			zap.String("status", string(outcome.Status)))
	}
	ack(c)
}

// C2BValidation godoc
// @Summary Daraja C2B validation hook
// @Tags Mpesa
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /mpesa/c2b/validation [post]
func (h *MpesaHandler) C2BValidation(c *gin.Context) {
	// All paybill payments are accepted; allocation is resolved at
	// confirmation time.
	ack(c)
}

// C2BConfirmation godoc
// @Summary Daraja C2B payment confirmation
// @Tags Mpesa
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /mpesa/c2b/confirmation [post]
func (h *MpesaHandler) C2BConfirmation(c *gin.Context) {
	var conf mpesa.C2BConfirmation
	if err := c.ShouldBindJSON(&conf); err != nil {
		h.logger.Warn("malformed C2B confirmation", zap.Error(err))
		ack(c)
		return
	}

	outcome, err := h.payments.HandleC2BConfirmation(c.Request.Context(), conf)
	if err != nil {
		h.logger.Error("C2B confirmation processing failed",
			zap.String("trans_id", conf.TransID),
			zap.String("bill_ref", conf.BillRefNumber),
			zap.Error(err))
		ack(c)
		return
	}
	if !outcome.Ignored {
		h.logger.Info("C2B confirmation processed",
			zap.String("payment_id", outcome.PaymentID),
			zap.String("trans_id", conf.TransID))
	}
	ack(c)
}
