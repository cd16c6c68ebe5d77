package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/shule-api/internal/models"
	"github.com/noah-isme/shule-api/internal/service"
	"github.com/noah-isme/shule-api/pkg/mpesa"
)

type mpesaServiceMock struct {
	stkOutcome *service.CallbackOutcome
	stkErr     error
	c2bOutcome *service.CallbackOutcome
	c2bErr     error
	stkCalls   int
	c2bCalls   int
}

func (m *mpesaServiceMock) HandleSTKCallback(ctx context.Context, cb mpesa.STKCallback) (*service.CallbackOutcome, error) {
	m.stkCalls++
	if m.stkErr != nil {
		return nil, m.stkErr
	}
	return m.stkOutcome, nil
}

func (m *mpesaServiceMock) HandleC2BConfirmation(ctx context.Context, conf mpesa.C2BConfirmation) (*service.CallbackOutcome, error) {
	m.c2bCalls++
	if m.c2bErr != nil {
		return nil, m.c2bErr
	}
	return m.c2bOutcome, nil
}

func postJSON(t *testing.T, h gin.HandlerFunc, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	h(c)
	return w
}

func assertAck(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 0, body["ResultCode"])
	assert.Equal(t, "Accepted", body["ResultDesc"])
}

func TestMpesaHandlerSTKCallbackAcks(t *testing.T) {
	svc := &mpesaServiceMock{stkOutcome: &service.CallbackOutcome{PaymentID: "pay-1", Status: models.PaymentCompleted}}
	h := NewMpesaHandler(svc, zap.NewNop())

	payload := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`)
	w := postJSON(t, h.STKCallback, "/mpesa/callback", payload)

	assertAck(t, w)
	assert.Equal(t, 1, svc.stkCalls)
}

func TestMpesaHandlerSTKCallbackAcksOnServiceError(t *testing.T) {
	svc := &mpesaServiceMock{stkErr: errors.New("database down")}
	h := NewMpesaHandler(svc, zap.NewNop())

	payload := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`)
	w := postJSON(t, h.STKCallback, "/mpesa/callback", payload)

	assertAck(t, w)
}

func TestMpesaHandlerSTKCallbackAcksOnMalformedBody(t *testing.T) {
	svc := &mpesaServiceMock{}
	h := NewMpesaHandler(svc, zap.NewNop())

	w := postJSON(t, h.STKCallback, "/mpesa/callback", []byte(`not-json`))

	assertAck(t, w)
	assert.Equal(t, 0, svc.stkCalls)
}

func TestMpesaHandlerC2BConfirmationAcks(t *testing.T) {
	svc := &mpesaServiceMock{c2bOutcome: &service.CallbackOutcome{PaymentID: "pay-1", Status: models.PaymentCompleted}}
	h := NewMpesaHandler(svc, zap.NewNop())

	payload := []byte(`{"TransID":"SGR7TYPX1Q","TransAmount":"5000.00","BillRefNumber":"ADM001","MSISDN":"254712345678"}`)
	w := postJSON(t, h.C2BConfirmation, "/mpesa/c2b/confirmation", payload)

	assertAck(t, w)
	assert.Equal(t, 1, svc.c2bCalls)
}

func TestMpesaHandlerC2BConfirmationAcksOnServiceError(t *testing.T) {
	svc := &mpesaServiceMock{c2bErr: errors.New("student not found")}
	h := NewMpesaHandler(svc, zap.NewNop())

	payload := []byte(`{"TransID":"SGR7TYPX1Q","TransAmount":"5000.00","BillRefNumber":"NOPE"}`)
	w := postJSON(t, h.C2BConfirmation, "/mpesa/c2b/confirmation", payload)

	assertAck(t, w)
}

func TestMpesaHandlerC2BValidationAcks(t *testing.T) {
	h := NewMpesaHandler(&mpesaServiceMock{}, zap.NewNop())

	w := postJSON(t, h.C2BValidation, "/mpesa/c2b/validation", nil)

	assertAck(t, w)
}
