package payment

// ApplySuccess books the processed amount of a successful transaction on its
// payment or credit and on the instruction totals.
func (t *FinancialTransaction) ApplySuccess() {
	amount := t.ProcessedAmount
	instr := t.Instruction()

	switch t.Type {
	case TypeApprove:
		p := t.Payment
		p.ApprovedAmount = p.ApprovedAmount.Add(amount)
		instr.ApprovedAmount = instr.ApprovedAmount.Add(amount)
		p.Status = StatusApproved

	case TypeApproveAndDeposit:
		p := t.Payment
		p.ApprovedAmount = p.ApprovedAmount.Add(amount)
		p.DepositedAmount = p.DepositedAmount.Add(amount)
		instr.ApprovedAmount = instr.ApprovedAmount.Add(amount)
		instr.DepositedAmount = instr.DepositedAmount.Add(amount)
		p.Status = StatusDeposited

	case TypeDeposit:
		p := t.Payment
		p.DepositedAmount = p.DepositedAmount.Add(amount)
		instr.DepositedAmount = instr.DepositedAmount.Add(amount)
		p.Status = StatusDeposited

	case TypeReverseApproval:
		p := t.Payment
		p.ApprovedAmount = p.ApprovedAmount.Sub(amount)
		instr.ApprovedAmount = instr.ApprovedAmount.Sub(amount)
		if p.ApprovedAmount.IsZero() {
			p.Status = StatusCanceled
		}

	case TypeReverseDeposit:
		p := t.Payment
		p.DepositedAmount = p.DepositedAmount.Sub(amount)
		instr.DepositedAmount = instr.DepositedAmount.Sub(amount)
		if p.DepositedAmount.IsZero() {
			p.Status = StatusApproved
		}

	case TypeCredit:
		c := t.Credit
		c.CreditedAmount = c.CreditedAmount.Add(amount)
		instr.CreditedAmount = instr.CreditedAmount.Add(amount)
		c.Status = StatusCredited

	case TypeReverseCredit:
		c := t.Credit
		c.CreditedAmount = c.CreditedAmount.Sub(amount)
		instr.CreditedAmount = instr.CreditedAmount.Sub(amount)
		if c.CreditedAmount.IsZero() {
			c.Status = StatusCanceled
		}
	}
	instr.UpdatedAt = t.UpdatedAt
}

// ApplyFailure marks the owner FAILED when the failed transaction was the
// one bringing it into existence. Failed follow-ups leave the owner as is.
func (t *FinancialTransaction) ApplyFailure() {
	switch t.Type {
	case TypeApprove, TypeApproveAndDeposit:
		if t.Payment.ApprovedAmount.IsZero() {
			t.Payment.Status = StatusFailed
		}
	case TypeCredit:
		if t.Credit.CreditedAmount.IsZero() {
			t.Credit.Status = StatusFailed
		}
	}
}

// FlagAttention asks an operator to review the transaction's owner.
func (t *FinancialTransaction) FlagAttention() {
	switch {
	case t.Payment != nil:
		t.Payment.AttentionRequired = true
	case t.Credit != nil:
		t.Credit.AttentionRequired = true
	}
}
