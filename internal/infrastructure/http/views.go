package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/controller"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
)

type TransactionView struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	State           string          `json:"state"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	ProcessedAmount decimal.Decimal `json:"processed_amount"`
	ResponseCode    string          `json:"response_code,omitempty"`
	ReasonCode      string          `json:"reason_code,omitempty"`
	TrackingID      string          `json:"tracking_id,omitempty"`
	Attempts        int             `json:"attempts"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
}

type PaymentView struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	TargetAmount      decimal.Decimal   `json:"target_amount"`
	ApprovedAmount    decimal.Decimal   `json:"approved_amount"`
	DepositedAmount   decimal.Decimal   `json:"deposited_amount"`
	AttentionRequired bool              `json:"attention_required"`
	Transactions      []TransactionView `json:"transactions"`
}

type CreditView struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	TargetAmount      decimal.Decimal   `json:"target_amount"`
	CreditedAmount    decimal.Decimal   `json:"credited_amount"`
	AttentionRequired bool              `json:"attention_required"`
	Transactions      []TransactionView `json:"transactions"`
}

type InstructionView struct {
	ID              string          `json:"id"`
	State           string          `json:"state"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethod   string          `json:"payment_method"`
	ApprovedAmount  decimal.Decimal `json:"approved_amount"`
	DepositedAmount decimal.Decimal `json:"deposited_amount"`
	CreditedAmount  decimal.Decimal `json:"credited_amount"`
	ExtendedData    map[string]any  `json:"extended_data"`
	Payments        []PaymentView   `json:"payments"`
	Credits         []CreditView    `json:"credits"`
}

type ResultView struct {
	Status      string               `json:"status"`
	ReasonCode  string               `json:"reason_code"`
	Recoverable bool                 `json:"recoverable"`
	Transaction *TransactionView     `json:"transaction,omitempty"`
	PaymentID   string               `json:"payment_id,omitempty"`
	CreditID    string               `json:"credit_id,omitempty"`
	Instruction *InstructionView     `json:"instruction,omitempty"`
	Errors      *controller.FieldSet `json:"errors,omitempty"`
}

func newTransactionView(tx *payment.FinancialTransaction) TransactionView {
	return TransactionView{
		ID:              tx.ID,
		Type:            string(tx.Type),
		State:           string(tx.State),
		RequestedAmount: tx.RequestedAmount,
		ProcessedAmount: tx.ProcessedAmount,
		ResponseCode:    tx.ResponseCode,
		ReasonCode:      tx.ReasonCode,
		TrackingID:      tx.TrackingID,
		Attempts:        tx.Attempts,
		NextRetryAt:     tx.NextRetryAt,
	}
}

func transactionViews(txs []*payment.FinancialTransaction) []TransactionView {
	out := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionView(tx))
	}
	return out
}

func newInstructionView(instr *payment.PaymentInstruction) *InstructionView {
	v := &InstructionView{
		ID:              instr.ID,
		State:           string(instr.State),
		Amount:          instr.Amount,
		Currency:        instr.Currency,
		PaymentMethod:   instr.PaymentMethod,
		ApprovedAmount:  instr.ApprovedAmount,
		DepositedAmount: instr.DepositedAmount,
		CreditedAmount:  instr.CreditedAmount,
		ExtendedData:    map[string]any{},
		Payments:        []PaymentView{},
		Credits:         []CreditView{},
	}
	if instr.ExtendedData != nil {
		for _, k := range instr.ExtendedData.Keys() {
			v.ExtendedData[k], _ = instr.ExtendedData.Get(k)
		}
	}
	for _, p := range instr.Payments {
		v.Payments = append(v.Payments, PaymentView{
			ID:                p.ID,
			Status:            string(p.Status),
			TargetAmount:      p.TargetAmount,
			ApprovedAmount:    p.ApprovedAmount,
			DepositedAmount:   p.DepositedAmount,
			AttentionRequired: p.IsAttentionRequired(),
			Transactions:      transactionViews(p.Transactions),
		})
	}
	for _, c := range instr.Credits {
		v.Credits = append(v.Credits, CreditView{
			ID:                c.ID,
			Status:            string(c.Status),
			TargetAmount:      c.TargetAmount,
			CreditedAmount:    c.CreditedAmount,
			AttentionRequired: c.IsAttentionRequired(),
			Transactions:      transactionViews(c.Transactions),
		})
	}
	return v
}

// newResultView renders res. Failed results carry their plugin errors laid
// out on a form tree.
func newResultView(res *controller.Result) ResultView {
	v := ResultView{
		Status:      res.Status().String(),
		ReasonCode:  res.ReasonCode(),
		Recoverable: res.IsRecoverable(),
	}
	if tx := res.Transaction(); tx != nil {
		tv := newTransactionView(tx)
		v.Transaction = &tv
	}
	if p := res.Payment(); p != nil {
		v.PaymentID = p.ID
	}
	if c := res.Credit(); c != nil {
		v.CreditID = c.ID
	}
	if instr := res.Instruction(); instr != nil {
		v.Instruction = newInstructionView(instr)
	}
	if res.Status() == controller.StatusFailed {
		form := controller.NewDynamicFieldSet("payment")
		_ = controller.ApplyErrors(form, res)
		v.Errors = form
	}
	return v
}
