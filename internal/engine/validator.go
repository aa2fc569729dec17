package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payrollhq/entitlement-engine/internal/models"
)

// DefaultAnnualClaimLimit is the ceiling on committed monthly-unit claims
// per employee, expense type and calendar year.
const DefaultAnnualClaimLimit = 12

// Reason classifies a validation outcome.
type Reason string

const (
	// ReasonNone means the claim is fully payable.
	ReasonNone Reason = ""
	// ReasonNoEntitlement means no active entitlement covers the claim date.
	ReasonNoEntitlement Reason = "NO_ENTITLEMENT"
	// ReasonAnnualClaimCountExceeded means the monthly claim ceiling for the
	// calendar year is already reached.
	ReasonAnnualClaimCountExceeded Reason = "ANNUAL_CLAIM_COUNT_EXCEEDED"
	// ReasonCapExceeded means receipts exceed the claimable amount. This is
	// a soft outcome: the claim is still payable up to Claimable.
	ReasonCapExceeded Reason = "CAP_EXCEEDED"
)

// Input is a claim validation request. A zero PaidDate defaults to today,
// which pre-submission probes rely on. ExcludeClaimID removes one committed
// claim from aggregation (used when re-validating an edit).
type Input struct {
	EmployeeID     string
	ExpenseType    string
	ReceiptsAmount decimal.Decimal
	PaidDate       time.Time
	ExcludeClaimID string
}

// Result answers "how much of this claim is payable". Valid means fully
// payable without a cap; a capped claim is still payable up to Claimable.
type Result struct {
	Valid       bool
	Claimable   decimal.Decimal
	Reason      Reason
	Message     string
	Entitlement *models.Entitlement
}

// Validator is the read-only validation engine. Validate has no side effects
// and may be called repeatedly as an idempotent probe.
type Validator struct {
	entitlements     EntitlementSource
	aggregator       *Aggregator
	annualClaimLimit int
	now              func() time.Time
}

// NewValidator creates a validation engine. annualClaimLimit <= 0 falls back
// to DefaultAnnualClaimLimit.
func NewValidator(entitlements EntitlementSource, aggregator *Aggregator, annualClaimLimit int) *Validator {
	if annualClaimLimit <= 0 {
		annualClaimLimit = DefaultAnnualClaimLimit
	}
	return &Validator{
		entitlements:     entitlements,
		aggregator:       aggregator,
		annualClaimLimit: annualClaimLimit,
		now:              time.Now,
	}
}

// Validate computes the claimable amount for the given input against the
// current ledger state.
func (v *Validator) Validate(ctx context.Context, in Input) (Result, error) {
	if in.ReceiptsAmount.IsNegative() {
		return Result{}, fmt.Errorf("receipts_amount must be non-negative, got %s", in.ReceiptsAmount)
	}
	if in.PaidDate.IsZero() {
		in.PaidDate = v.now()
	}

	ent, err := v.entitlements.FindActive(ctx, in.EmployeeID, in.ExpenseType, in.PaidDate)
	if err != nil {
		return Result{}, fmt.Errorf("find active entitlement: %w", err)
	}
	if ent == nil {
		return Result{
			Valid:     false,
			Claimable: decimal.Zero,
			Reason:    ReasonNoEntitlement,
			Message:   fmt.Sprintf("no active entitlement for employee %s, expense type %s on %s", in.EmployeeID, in.ExpenseType, in.PaidDate.Format("2006-01-02")),
		}, nil
	}

	usage, err := v.aggregator.Collect(ctx, ent, in.PaidDate, in.ExcludeClaimID)
	if err != nil {
		return Result{}, err
	}

	res := Result{Entitlement: ent}

	switch ent.Unit {
	case models.UnitNoCap, models.UnitActual:
		res.Valid = true
		res.Claimable = in.ReceiptsAmount

	case models.UnitMonthly:
		if usage.CountThisYear >= v.annualClaimLimit {
			res.Claimable = decimal.Zero
			res.Reason = ReasonAnnualClaimCountExceeded
			res.Message = fmt.Sprintf("annual limit of %d claims already reached for %d", v.annualClaimLimit, in.PaidDate.Year())
			break
		}
		if !ent.HasCap() {
			res.Valid = true
			res.Claimable = in.ReceiptsAmount
			break
		}
		res.Claimable = decimal.Min(in.ReceiptsAmount, *ent.Amount)
		res.Valid = res.Claimable.Equal(in.ReceiptsAmount)
		if !res.Valid {
			res.Reason = ReasonCapExceeded
			res.Message = fmt.Sprintf("per-claim cap is %s, receipts are %s", ent.Amount.StringFixed(2), in.ReceiptsAmount.StringFixed(2))
		}

	case models.UnitYearly:
		if !ent.HasCap() {
			res.Valid = true
			res.Claimable = in.ReceiptsAmount
			break
		}
		available := ent.Amount.Sub(usage.UsedThisYear).Add(usage.CarryIn)
		if available.IsNegative() {
			available = decimal.Zero
		}
		res.Claimable = decimal.Min(in.ReceiptsAmount, available)
		res.Valid = res.Claimable.Equal(in.ReceiptsAmount)
		if !res.Valid {
			res.Reason = ReasonCapExceeded
			res.Message = fmt.Sprintf("%s of the yearly amount remains, receipts are %s", available.StringFixed(2), in.ReceiptsAmount.StringFixed(2))
		}

	default:
		return Result{}, fmt.Errorf("unknown entitlement unit %q", ent.Unit)
	}

	// Rounding happens once, on the final claimable amount. Intermediate
	// sums stay exact.
	res.Claimable = res.Claimable.Round(2)
	if res.Valid && res.Message == "" {
		res.Message = "fully payable"
	}
	return res, nil
}
