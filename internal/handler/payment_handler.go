package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/shule-api/internal/models"
	"github.com/noah-isme/shule-api/internal/service"
	appErrors "github.com/noah-isme/shule-api/pkg/errors"
	"github.com/noah-isme/shule-api/pkg/response"
	"github.com/noah-isme/shule-api/pkg/storage"
)

// PaymentHandler exposes payment endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
	receipts *storage.LocalStorage
}

// NewPaymentHandler constructs handler. Receipts storage may be nil,
// in which case generated PDFs are streamed without being archived.
func NewPaymentHandler(payments *service.PaymentService, receipts *storage.LocalStorage) *PaymentHandler {
	return &PaymentHandler{payments: payments, receipts: receipts}
}

// List godoc
// @Summary List payments
// @Tags Payments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Param method query string false "Filter by method"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	filter := models.PaymentFilter{
		StudentID: c.Query("studentId"),
		Status:    c.Query("status"),
		Method:    c.Query("method"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "pageSize", 50),
	}
	if raw := c.Query("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = &t
		}
	}
	if raw := c.Query("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = &t
		}
	}
	payments, pagination, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// Get godoc
// @Summary Get a payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment id"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// InitiateSTK godoc
// @Summary Initiate an M-Pesa STK push
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.STKPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /payments/mpesa/stk [post]
func (h *PaymentHandler) InitiateSTK(c *gin.Context) {
	var req service.STKPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, err := h.payments.InitiateSTKPush(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// Status godoc
// @Summary Query a payment's live status
// @Tags Payments
// @Produce json
// @Param id path string true "Payment id"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/status [get]
func (h *PaymentHandler) Status(c *gin.Context) {
	payment, provider, err := h.payments.QueryStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	payload := gin.H{"payment": payment}
	if provider != nil {
		payload["provider"] = provider
	}
	response.JSON(c, http.StatusOK, payload, nil)
}

// Manual godoc
// @Summary Record an offline payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.ManualPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Router /payments/manual [post]
func (h *PaymentHandler) Manual(c *gin.Context) {
	var req service.ManualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, err := h.payments.RecordManualPayment(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// Stats godoc
// @Summary Payment collection statistics
// @Tags Payments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /payments/stats [get]
func (h *PaymentHandler) Stats(c *gin.Context) {
	stats, err := h.payments.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Receipt godoc
// @Summary Download a payment receipt PDF
// @Tags Payments
// @Produce application/pdf
// @Param id path string true "Payment id"
// @Success 200 {file} file
// @Router /payments/{id}/receipt [get]
func (h *PaymentHandler) Receipt(c *gin.Context) {
	id := c.Param("id")
	payload, err := h.payments.ReceiptPDF(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.receipts != nil {
		// Archived copies back up the finance office; a write failure
		// must not block the download.
		_, _ = h.receipts.Save("receipt-"+id+".pdf", payload)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "receipt-"+id+".pdf"))
	c.Data(http.StatusOK, "application/pdf", payload)
}

// Reconcile godoc
// @Summary Reconcile stale pending payments with the provider
// @Tags Payments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /payments/reconcile [post]
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	resolved, err := h.payments.ReconcileStalePending(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"resolved": resolved}, nil)
}
