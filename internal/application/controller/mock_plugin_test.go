package controller_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/controller"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/plugin"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/metrics"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/persistence/inmemory"
)

type mockPlugin struct {
	mock.Mock
	name       string
	methods    []string
	threadSafe bool
}

func newMockPlugin(methods ...string) *mockPlugin {
	return &mockPlugin{name: "mock", methods: methods, threadSafe: true}
}

func (m *mockPlugin) Name() string                 { return m.name }
func (m *mockPlugin) Processes(method string) bool { return slices.Contains(m.methods, method) }
func (m *mockPlugin) IsThreadSafe() bool           { return m.threadSafe }

func (m *mockPlugin) CheckPaymentInstruction(_ context.Context, instr *payment.PaymentInstruction) error {
	return m.Called(instr).Error(0)
}

func (m *mockPlugin) ValidatePaymentInstruction(_ context.Context, instr *payment.PaymentInstruction) error {
	return m.Called(instr).Error(0)
}

func (m *mockPlugin) outcome(method string, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return m.MethodCalled(method, tx, retry).Get(0).(plugin.Outcome)
}

func (m *mockPlugin) Approve(_ context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return m.outcome("Approve", tx, retry)
}

func (m *mockPlugin) ApproveAndDeposit(_ context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return m.outcome("ApproveAndDeposit", tx, retry)
}

func (m *mockPlugin) Deposit(_ context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return m.outcome("Deposit", tx, retry)
}

func (m *mockPlugin) Credit(_ context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return m.outcome("Credit", tx, retry)
}

func (m *mockPlugin) ReverseApproval(_ context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return m.outcome("ReverseApproval", tx, retry)
}

func (m *mockPlugin) ReverseDeposit(_ context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return m.outcome("ReverseDeposit", tx, retry)
}

func (m *mockPlugin) ReverseCredit(_ context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return m.outcome("ReverseCredit", tx, retry)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (f *fakeRecorder) Record(evt event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeRecorder) types() []event.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Type, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeRetry struct {
	exhaustedFn func(int) bool
}

func (f *fakeRetry) Exhausted(attempts int) bool { return f.exhaustedFn(attempts) }

func (f *fakeRetry) Next(int, time.Duration) time.Duration { return time.Second }

type harness struct {
	ctrl     *controller.Controller
	repo     *inmemory.PaymentRepository
	plugin   *mockPlugin
	counters *metrics.Counters
	events   *fakeRecorder
}

func newHarness(t *testing.T, p *mockPlugin) *harness {
	t.Helper()
	registry, err := controller.NewRegistry(controller.Entry{Method: "creditcard", Plugin: p})
	require.NoError(t, err)

	var seq atomic.Int64
	h := &harness{
		repo:     inmemory.NewPaymentRepository(),
		plugin:   p,
		counters: &metrics.Counters{},
		events:   &fakeRecorder{},
	}
	h.ctrl = &controller.Controller{
		Registry: registry,
		Repo:     h.repo,
		Events:   h.events,
		Metrics:  h.counters,
		NewID:    func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	}
	return h
}

// validInstruction stores a VALID instruction of amount EUR.
func (h *harness) validInstruction(t *testing.T, id, amount string) *payment.PaymentInstruction {
	t.Helper()
	instr := payment.NewInstruction(id, dec(amount), "EUR", "creditcard", nil)
	instr.State = payment.InstructionValid
	require.NoError(t, h.repo.Save(context.Background(), instr))
	return instr
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func final(amount string) plugin.Outcome {
	return plugin.Completed(plugin.Response{ProcessedAmount: dec(amount), TrackingID: "trk-1", Final: true})
}
