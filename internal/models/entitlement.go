package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Unit is the capping strategy of an entitlement. The set is closed: every
// consumer switches exhaustively over these values.
type Unit string

const (
	// UnitMonthly caps each claim at the entitlement amount and limits the
	// number of claims per calendar year.
	UnitMonthly Unit = "monthly"
	// UnitYearly caps the accumulated claims amount per calendar year.
	UnitYearly Unit = "yearly"
	// UnitNoCap pays receipts in full with no aggregation.
	UnitNoCap Unit = "no_cap"
	// UnitActual pays actual receipts in full, like UnitNoCap.
	UnitActual Unit = "actual"
)

// Valid reports whether u is one of the known units.
func (u Unit) Valid() bool {
	switch u {
	case UnitMonthly, UnitYearly, UnitNoCap, UnitActual:
		return true
	}
	return false
}

// Entitlement is a configured allowance rule for one employee and one
// expense type, active over a half-open date range [StartDate, EndDate).
type Entitlement struct {
	ID          string           `json:"id"`
	EmployeeID  string           `json:"employee_id"`
	ExpenseType string           `json:"expense_type"`
	Amount      *decimal.Decimal `json:"amount,omitempty"` // nil means no configured cap
	Unit        Unit             `json:"unit"`
	Rollover    bool             `json:"rollover"`
	StartDate   time.Time        `json:"start_date"`
	EndDate     *time.Time       `json:"end_date,omitempty"` // nil means open-ended
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Validate checks the entitlement's structural invariants.
func (e *Entitlement) Validate() error {
	if e.EmployeeID == "" {
		return fmt.Errorf("employee_id is required")
	}
	if e.ExpenseType == "" {
		return fmt.Errorf("expense_type is required")
	}
	if !e.Unit.Valid() {
		return fmt.Errorf("unknown unit %q", e.Unit)
	}
	if e.Amount != nil && e.Amount.IsNegative() {
		return fmt.Errorf("amount must be non-negative, got %s", e.Amount)
	}
	if e.Rollover && e.Unit != UnitYearly {
		return fmt.Errorf("rollover is only valid for yearly entitlements, got unit %q", e.Unit)
	}
	if e.StartDate.IsZero() {
		return fmt.Errorf("start_date is required")
	}
	if e.EndDate != nil && !e.EndDate.After(e.StartDate) {
		return fmt.Errorf("end_date must be after start_date")
	}
	return nil
}

// ActiveOn reports whether the entitlement covers the given date.
// The range is half-open: start inclusive, end exclusive.
func (e *Entitlement) ActiveOn(t time.Time) bool {
	if t.Before(e.StartDate) {
		return false
	}
	return e.EndDate == nil || t.Before(*e.EndDate)
}

// HasCap reports whether the entitlement carries a configured amount.
// An entitlement without an amount pays receipts in full.
func (e *Entitlement) HasCap() bool {
	return e.Amount != nil
}
