package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Claim is a single committed reimbursement request. ReceiptsAmount is what
// was spent, ClaimsAmount is what gets reimbursed, and AllowedAmount records
// what the cap would have permitted at commit time so overridden claims stay
// explainable after the fact.
type Claim struct {
	ID               string          `json:"id"`
	EmployeeID       string          `json:"employee_id"`
	ExpenseType      string          `json:"expense_type"`
	PaidDate         time.Time       `json:"paid_date"`
	ReceiptsAmount   decimal.Decimal `json:"receipts_amount"`
	ClaimsAmount     decimal.Decimal `json:"claims_amount"`
	AllowedAmount    decimal.Decimal `json:"allowed_amount"`
	OverrideApproved bool            `json:"override_approved"`
	ApproverID       string          `json:"approver_id,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Validate checks the claim's structural invariants.
func (c *Claim) Validate() error {
	if c.EmployeeID == "" {
		return fmt.Errorf("employee_id is required")
	}
	if c.ExpenseType == "" {
		return fmt.Errorf("expense_type is required")
	}
	if c.PaidDate.IsZero() {
		return fmt.Errorf("paid_date is required")
	}
	if c.ReceiptsAmount.IsNegative() {
		return fmt.Errorf("receipts_amount must be non-negative, got %s", c.ReceiptsAmount)
	}
	if c.ClaimsAmount.IsNegative() {
		return fmt.Errorf("claims_amount must be non-negative, got %s", c.ClaimsAmount)
	}
	if !c.OverrideApproved && c.ClaimsAmount.GreaterThan(c.ReceiptsAmount) {
		return fmt.Errorf("claims_amount %s exceeds receipts_amount %s without override", c.ClaimsAmount, c.ReceiptsAmount)
	}
	if c.OverrideApproved && c.ApproverID == "" {
		return fmt.Errorf("override_approved requires an approver_id")
	}
	return nil
}
