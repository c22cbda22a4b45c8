package inmemory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
)

// PaymentRepository keeps instruction aggregates in memory, indexed by the
// ids of their payments, credits and transactions.
type PaymentRepository struct {
	mu           sync.RWMutex
	instructions map[string]*payment.PaymentInstruction
	owners       map[string]string
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		mu:           sync.RWMutex{},
		instructions: make(map[string]*payment.PaymentInstruction),
		owners:       make(map[string]string),
	}
}

func (r *PaymentRepository) Create(_ context.Context, instr *payment.PaymentInstruction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instructions[instr.ID]; ok {
		return fmt.Errorf("%s: %w", instr.ID, payment.ErrInstructionExists)
	}
	r.index(instr)
	return nil
}

func (r *PaymentRepository) Save(_ context.Context, instr *payment.PaymentInstruction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.index(instr)
	return nil
}

func (r *PaymentRepository) index(instr *payment.PaymentInstruction) {
	r.instructions[instr.ID] = instr
	for _, p := range instr.Payments {
		r.owners[p.ID] = instr.ID
	}
	for _, c := range instr.Credits {
		r.owners[c.ID] = instr.ID
	}
	for _, tx := range instr.Transactions() {
		r.owners[tx.ID] = instr.ID
	}
}

func (r *PaymentRepository) FindByID(_ context.Context, id string) (*payment.PaymentInstruction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instr, ok := r.instructions[id]
	if !ok {
		return nil, payment.ErrInstructionNotFound
	}
	return instr, nil
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, id string) (*payment.PaymentInstruction, error) {
	return r.findByOwned(id, payment.ErrTransactionNotFound)
}

func (r *PaymentRepository) FindByPaymentID(ctx context.Context, id string) (*payment.PaymentInstruction, error) {
	return r.findByOwned(id, payment.ErrInstructionNotFound)
}

func (r *PaymentRepository) FindByCreditID(ctx context.Context, id string) (*payment.PaymentInstruction, error) {
	return r.findByOwned(id, payment.ErrInstructionNotFound)
}

func (r *PaymentRepository) findByOwned(id string, notFound error) (*payment.PaymentInstruction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instrID, ok := r.owners[id]
	if !ok {
		return nil, notFound
	}
	instr, ok := r.instructions[instrID]
	if !ok {
		return nil, notFound
	}
	return instr, nil
}

func (r *PaymentRepository) Instructions() map[string]*payment.PaymentInstruction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.instructions)
}
