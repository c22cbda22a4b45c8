package controller

import (
	"context"
	"slices"
	"sync"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/plugin"
	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
)

// Entry binds one payment method to the plugin serving it.
type Entry struct {
	Method string
	Plugin plugin.Plugin
}

// Registry maps payment methods to plugins. It is built once at startup and
// never changes afterwards.
type Registry struct {
	plugins map[string]plugin.Plugin
	methods []string
}

// NewRegistry fails on an empty method, a nil plugin, a plugin that does not
// process the method it is registered for, or a method registered twice.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{plugins: make(map[string]plugin.Plugin, len(entries))}
	guarded := make(map[plugin.Plugin]plugin.Plugin)

	for _, e := range entries {
		if e.Method == "" {
			return nil, apperrors.Configuration("payment method must not be empty")
		}
		if e.Plugin == nil {
			return nil, apperrors.Configuration("no plugin given for payment method %q", e.Method)
		}
		if existing, ok := r.plugins[e.Method]; ok {
			return nil, apperrors.Configuration("payment method %q is registered twice (plugins %q and %q)",
				e.Method, existing.Name(), e.Plugin.Name())
		}
		if !e.Plugin.Processes(e.Method) {
			return nil, apperrors.Configuration("plugin %q does not process payment method %q", e.Plugin.Name(), e.Method)
		}

		p := e.Plugin
		if !p.IsThreadSafe() {
			w, ok := guarded[p]
			if !ok {
				w = &serialized{Plugin: p}
				guarded[p] = w
			}
			p = w
		}
		r.plugins[e.Method] = p
		r.methods = append(r.methods, e.Method)
	}
	return r, nil
}

// Resolve returns the plugin for method. An unknown method means the
// deployment advertises a method nobody serves.
func (r *Registry) Resolve(method string) (plugin.Plugin, error) {
	p, ok := r.plugins[method]
	if !ok {
		return nil, apperrors.Configuration("there is no plugin registered for payment method %q", method).
			WithContext("available", r.Methods())
	}
	return p, nil
}

// Methods lists the registered methods in registration order.
func (r *Registry) Methods() []string {
	return slices.Clone(r.methods)
}

// serialized runs every call of a plugin that is not thread safe under one
// mutex, shared by all methods the plugin is registered for.
type serialized struct {
	plugin.Plugin
	mu sync.Mutex
}

func (s *serialized) CheckPaymentInstruction(ctx context.Context, instr *payment.PaymentInstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Plugin.CheckPaymentInstruction(ctx, instr)
}

func (s *serialized) ValidatePaymentInstruction(ctx context.Context, instr *payment.PaymentInstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Plugin.ValidatePaymentInstruction(ctx, instr)
}

func (s *serialized) do(fn func() plugin.Outcome) plugin.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *serialized) Approve(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return s.do(func() plugin.Outcome { return s.Plugin.Approve(ctx, tx, retry) })
}

func (s *serialized) ApproveAndDeposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return s.do(func() plugin.Outcome { return s.Plugin.ApproveAndDeposit(ctx, tx, retry) })
}

func (s *serialized) Deposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return s.do(func() plugin.Outcome { return s.Plugin.Deposit(ctx, tx, retry) })
}

func (s *serialized) Credit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return s.do(func() plugin.Outcome { return s.Plugin.Credit(ctx, tx, retry) })
}

func (s *serialized) ReverseApproval(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return s.do(func() plugin.Outcome { return s.Plugin.ReverseApproval(ctx, tx, retry) })
}

func (s *serialized) ReverseDeposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return s.do(func() plugin.Outcome { return s.Plugin.ReverseDeposit(ctx, tx, retry) })
}

func (s *serialized) ReverseCredit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return s.do(func() plugin.Outcome { return s.Plugin.ReverseCredit(ctx, tx, retry) })
}

// operation returns the plugin method matching a transaction type.
func operation(p plugin.Plugin, t payment.TransactionType) func(context.Context, *payment.FinancialTransaction, bool) plugin.Outcome {
	switch t {
	case payment.TypeApprove:
		return p.Approve
	case payment.TypeApproveAndDeposit:
		return p.ApproveAndDeposit
	case payment.TypeDeposit:
		return p.Deposit
	case payment.TypeCredit:
		return p.Credit
	case payment.TypeReverseApproval:
		return p.ReverseApproval
	case payment.TypeReverseDeposit:
		return p.ReverseDeposit
	case payment.TypeReverseCredit:
		return p.ReverseCredit
	}
	return nil
}
