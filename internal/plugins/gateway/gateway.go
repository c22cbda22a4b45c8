// Package gateway talks to a remote payment provider over HTTP.
//
// Operations are POSTed to {URL}/transactions. The provider answers 200 when
// it processed the request, 202 when it needs more time, 4xx with an error
// body when it refuses and 5xx when it is unavailable.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/plugin"
)

type Plugin struct {
	URL     string
	Methods []string
	Client  *http.Client
}

func New(url string, methods []string, timeout time.Duration) *Plugin {
	return &Plugin{
		URL:     strings.TrimRight(url, "/"),
		Methods: methods,
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

func (p *Plugin) Name() string { return "gateway" }

func (p *Plugin) Processes(method string) bool { return slices.Contains(p.Methods, method) }

func (p *Plugin) IsThreadSafe() bool { return true }

type instructionRequest struct {
	InstructionID string          `json:"instruction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	ExtendedData  json.RawMessage `json:"extended_data,omitempty"`
}

type transactionRequest struct {
	TransactionID string          `json:"transaction_id"`
	InstructionID string          `json:"instruction_id"`
	Operation     string          `json:"operation"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Retry         bool            `json:"retry"`
	TrackingID    string          `json:"tracking_id,omitempty"`
}

type transactionResponse struct {
	TrackingID      string           `json:"tracking_id"`
	ProcessedAmount *decimal.Decimal `json:"processed_amount"`
	ResponseCode    string           `json:"response_code"`
	ReasonCode      string           `json:"reason_code"`
	Final           *bool            `json:"final"`
	ExtendedData    map[string]any   `json:"extended_data"`
}

type errorResponse struct {
	Message      string            `json:"message"`
	ReasonCode   string            `json:"reason_code"`
	ResponseCode string            `json:"response_code"`
	GlobalErrors []string          `json:"global_errors"`
	FieldErrors  map[string]string `json:"field_errors"`
}

func (p *Plugin) CheckPaymentInstruction(ctx context.Context, instr *payment.PaymentInstruction) error {
	return p.preflight(ctx, "/instructions/check", instr)
}

func (p *Plugin) ValidatePaymentInstruction(ctx context.Context, instr *payment.PaymentInstruction) error {
	return p.preflight(ctx, "/instructions/validate", instr)
}

func (p *Plugin) preflight(ctx context.Context, path string, instr *payment.PaymentInstruction) error {
	data, err := json.Marshal(instr.ExtendedData)
	if err != nil {
		return err
	}

	resp, err := p.post(ctx, path, instructionRequest{
		InstructionID: instr.ID,
		Amount:        instr.Amount,
		Currency:      instr.Currency,
		PaymentMethod: instr.PaymentMethod,
		ExtendedData:  data,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		perr, err := decodeError(resp)
		if err != nil {
			return err
		}
		return perr
	}
	return fmt.Errorf("gateway %s returned status %d", path, resp.StatusCode)
}

func (p *Plugin) Approve(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(ctx, tx, retry)
}

func (p *Plugin) ApproveAndDeposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(ctx, tx, retry)
}

func (p *Plugin) Deposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(ctx, tx, retry)
}

func (p *Plugin) Credit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(ctx, tx, retry)
}

func (p *Plugin) ReverseApproval(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(ctx, tx, retry)
}

func (p *Plugin) ReverseDeposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(ctx, tx, retry)
}

func (p *Plugin) ReverseCredit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(ctx, tx, retry)
}

func (p *Plugin) execute(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	instr := tx.Instruction()
	if instr == nil {
		return plugin.Unexpected(fmt.Errorf("transaction %s has no instruction", tx.ID))
	}

	resp, err := p.post(ctx, "/transactions", transactionRequest{
		TransactionID: tx.ID,
		InstructionID: instr.ID,
		Operation:     string(tx.Type),
		Amount:        tx.RequestedAmount,
		Currency:      instr.Currency,
		PaymentMethod: instr.PaymentMethod,
		Retry:         retry,
		TrackingID:    tx.TrackingID,
	})
	if err != nil {
		if isTimeout(err) {
			return plugin.Pending(0, payment.ReasonCodeTimeout)
		}
		return plugin.Unexpected(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body transactionResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return plugin.Unexpected(fmt.Errorf("decode gateway response: %w", err))
		}
		return plugin.Completed(body.response(tx))

	case resp.StatusCode == http.StatusAccepted:
		var body transactionResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return plugin.Pending(retryAfter(resp), body.ReasonCode)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		perr, err := decodeError(resp)
		if err != nil {
			return plugin.Unexpected(err)
		}
		return plugin.Rejected(perr)

	case resp.StatusCode >= 500:
		return plugin.Pending(retryAfter(resp), payment.ReasonCodeBlocked)
	}

	return plugin.Unexpected(fmt.Errorf("gateway returned status %d", resp.StatusCode))
}

func (b transactionResponse) response(tx *payment.FinancialTransaction) plugin.Response {
	out := plugin.Response{
		ProcessedAmount: tx.RequestedAmount,
		ResponseCode:    b.ResponseCode,
		ReasonCode:      b.ReasonCode,
		TrackingID:      b.TrackingID,
		Final:           b.Final == nil || *b.Final,
		ExtendedData:    b.ExtendedData,
	}
	if b.ProcessedAmount != nil {
		out.ProcessedAmount = *b.ProcessedAmount
	}
	return out
}

func (p *Plugin) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

func decodeError(resp *http.Response) (*plugin.Error, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var body errorResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode gateway error body: %w", err)
		}
	}

	message := body.Message
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	perr := plugin.NewError(message)
	perr.ReasonCode = body.ReasonCode
	perr.ResponseCode = body.ResponseCode
	for _, msg := range body.GlobalErrors {
		perr.AddGlobalError(msg)
	}

	paths := make([]string, 0, len(body.FieldErrors))
	for path := range body.FieldErrors {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	for _, path := range paths {
		if err := perr.AddDataError(path, body.FieldErrors[path]); err != nil {
			return nil, err
		}
	}
	return perr, nil
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0)
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
