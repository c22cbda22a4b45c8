package event

import "time"

type TransactionPayload struct {
	TransactionID   string `json:"transaction_id"`
	InstructionID   string `json:"instruction_id"`
	PaymentID       string `json:"payment_id,omitempty"`
	CreditID        string `json:"credit_id,omitempty"`
	Operation       string `json:"operation"`
	State           string `json:"state"`
	Amount          string `json:"amount"`
	ProcessedAmount string `json:"processed_amount"`
	ReasonCode      string `json:"reason_code"`
	Recoverable     bool   `json:"recoverable"`
	Attempt         int    `json:"attempt"`

	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

type RetryPayload struct {
	TransactionID string `json:"transaction_id"`
	Attempt       int    `json:"attempt"`
}
