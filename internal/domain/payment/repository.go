package payment

import (
	"context"
	"errors"
)

var (
	ErrInstructionNotFound = errors.New("payment instruction not found")
	ErrTransactionNotFound = errors.New("financial transaction not found")
	ErrInstructionExists   = errors.New("payment instruction already exists")
)

// Repository persists whole instruction aggregates: the instruction, its
// payments and credits, and every transaction in their history.
type Repository interface {
	// Create stores a new instruction and fails with ErrInstructionExists
	// when its id is taken. Save never replaces an aggregate created here.
	Create(ctx context.Context, instruction *PaymentInstruction) error
	Save(ctx context.Context, instruction *PaymentInstruction) error
	FindByID(ctx context.Context, id string) (*PaymentInstruction, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*PaymentInstruction, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*PaymentInstruction, error)
	FindByCreditID(ctx context.Context, creditID string) (*PaymentInstruction, error)
}
