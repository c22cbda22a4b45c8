package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/controller"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/worker"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/metrics"
	httpapi "github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/http"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/persistence/inmemory"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/plugins/sandbox"
)

type server struct {
	router    *gin.Engine
	attention *worker.AttentionHandler
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := controller.NewRegistry(controller.Entry{
		Method: "sandbox",
		Plugin: sandbox.New([]string{"sandbox"}, 100, 0),
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	prom, err := metrics.NewPrometheus(reg)
	require.NoError(t, err)

	repo := inmemory.NewPaymentRepository()
	attention := &worker.AttentionHandler{Logger: logging.Nop{}}

	handler := &httpapi.PaymentHandler{
		Controller: &controller.Controller{Registry: registry, Repo: repo, Metrics: prom},
		Repo:       repo,
		Attention:  attention,
		Logger:     logging.Nop{},
	}

	return &server{
		router:    httpapi.NewRouter("payment-test", handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		attention: attention,
	}
}

func (s *server) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (s *server) createInstruction(t *testing.T, id, extra string) {
	t.Helper()
	w, _ := s.do(t, http.MethodPost, "/instructions",
		`{"id":"`+id+`","amount":"100","currency":"EUR","payment_method":"sandbox"`+extra+`}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCreateInstruction_ShouldStoreValidInstruction(t *testing.T) {
	s := newServer(t)
	s.createInstruction(t, "instr-1", `,"extended_data":{"holder":"Ada"}`)

	w, body := s.do(t, http.MethodGet, "/instructions/instr-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "VALID", body["state"])
	assert.Equal(t, "Ada", body["extended_data"].(map[string]any)["holder"])
}

func TestCreateInstruction_WhenPluginRefuses_ShouldRenderFieldErrors(t *testing.T) {
	s := newServer(t)

	w, body := s.do(t, http.MethodPost, "/instructions",
		`{"id":"instr-1","amount":"20000","currency":"EUR","payment_method":"sandbox"}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "FAILED", body["status"])
	errs := body["errors"].(map[string]any)["children"].(map[string]any)
	assert.Contains(t, errs, "amount")

	w, _ = s.do(t, http.MethodGet, "/instructions/instr-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateInstruction_WhenIDTaken_ShouldReturnConflict(t *testing.T) {
	s := newServer(t)
	s.createInstruction(t, "instr-1", `,"extended_data":{"holder":"Ada"}`)

	w, body := s.do(t, http.MethodPost, "/instructions",
		`{"id":"instr-1","amount":"100","currency":"EUR","payment_method":"sandbox"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", body["kind"])

	_, stored := s.do(t, http.MethodGet, "/instructions/instr-1", "")
	assert.Equal(t, "Ada", stored["extended_data"].(map[string]any)["holder"])
}

func TestCreateInstruction_WhenBodyIsInvalid_ShouldReturnBadRequest(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, http.MethodPost, "/instructions", `{"amount":"10"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApproveThenDeposit_ShouldMovePaymentThroughLifecycle(t *testing.T) {
	s := newServer(t)
	s.createInstruction(t, "instr-1", "")

	w, body := s.do(t, http.MethodPost, "/instructions/instr-1/approve", `{"amount":"60"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SUCCESS", body["status"])
	paymentID := body["payment_id"].(string)
	require.NotEmpty(t, paymentID)

	w, body = s.do(t, http.MethodPost, "/payments/"+paymentID+"/deposit", `{"amount":"60"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "deposit", body["transaction"].(map[string]any)["type"])

	w, body = s.do(t, http.MethodPost, "/payments/"+paymentID+"/deposit", `{"amount":"1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_state", body["kind"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), `payment_controller_results_total{operation="deposit",status="SUCCESS"} 1`)
}

func TestApprove_WhenAmountIsNotPositive_ShouldReturnBadRequest(t *testing.T) {
	s := newServer(t)
	s.createInstruction(t, "instr-1", "")

	w, body := s.do(t, http.MethodPost, "/instructions/instr-1/approve", `{"amount":"0"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "argument", body["kind"])
}

func TestPendingApproval_ShouldAcceptThenConfirmAsynchronously(t *testing.T) {
	s := newServer(t)
	s.createInstruction(t, "instr-1", `,"extended_data":{"sandbox_outcome":"async"}`)

	w, body := s.do(t, http.MethodPost, "/instructions/instr-1/approve", `{"amount":"100"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "awaiting_confirmation", body["reason_code"])
	txID := body["transaction"].(map[string]any)["id"].(string)

	w, body = s.do(t, http.MethodPost, "/transactions/"+txID+"/status", `{"state":"SUCCESS","processed_amount":"100"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SUCCESS", body["transaction"].(map[string]any)["state"])

	w, body = s.do(t, http.MethodPost, "/transactions/"+txID+"/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUCCESS", body["status"])
}

func TestStatusUpdate_WhenStateIsUnknown_ShouldReturnBadRequest(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, http.MethodPost, "/transactions/tx-1/status", `{"state":"PENDING"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttention_ShouldListAndAcknowledge(t *testing.T) {
	s := newServer(t)
	require.NoError(t, s.attention.Handle(event.Event{
		Type:    event.AttentionRequired,
		Payload: event.TransactionPayload{TransactionID: "tx-9", ReasonCode: "unexpected"},
	}))

	w, body := s.do(t, http.MethodGet, "/attention", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["transactions"], 1)

	w, _ = s.do(t, http.MethodPost, "/attention/tx-9/ack", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(t, http.MethodPost, "/attention/tx-9/ack", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
