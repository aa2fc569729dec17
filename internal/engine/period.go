package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payrollhq/entitlement-engine/internal/models"
)

// maxRolloverWalk bounds the backward year-by-year rollover walk so a
// misconfigured entitlement history cannot turn aggregation into an
// unbounded scan.
const maxRolloverWalk = 20

// EntitlementSource is the read side of the entitlement store the engine
// depends on. FindActive returns (nil, nil) when no entitlement covers the
// date; because active periods never overlap the result is unique.
type EntitlementSource interface {
	FindActive(ctx context.Context, employeeID, expenseType string, asOf time.Time) (*models.Entitlement, error)
}

// ClaimLedger is the read side of the claim store: per-calendar-year
// aggregation over committed claims. excludeClaimID removes one claim from
// the aggregate, which the edit path uses to validate a claim against
// everyone but itself; pass "" to include all claims.
type ClaimLedger interface {
	SumYear(ctx context.Context, employeeID, expenseType string, year int, excludeClaimID string) (decimal.Decimal, error)
	CountYear(ctx context.Context, employeeID, expenseType string, year int, excludeClaimID string) (int, error)
}

// Usage is the aggregated state of an accounting window.
type Usage struct {
	// UsedThisYear is the sum of committed claims_amount in the calendar
	// year containing the claim date (yearly entitlements only).
	UsedThisYear decimal.Decimal
	// CountThisYear is the number of committed claims in the same calendar
	// year (monthly entitlements only).
	CountThisYear int
	// CarryIn is the unused balance carried forward from consecutive prior
	// rollover years (yearly entitlements with rollover only).
	CarryIn decimal.Decimal
}

// Aggregator computes accounting windows and current usage from the claim
// ledger and the entitlement history.
type Aggregator struct {
	entitlements EntitlementSource
	ledger       ClaimLedger
}

// NewAggregator creates a period aggregator over the given stores.
func NewAggregator(entitlements EntitlementSource, ledger ClaimLedger) *Aggregator {
	return &Aggregator{entitlements: entitlements, ledger: ledger}
}

// Collect computes the usage relevant to validating a claim with the given
// paid date under the given entitlement. It is read-only.
func (a *Aggregator) Collect(ctx context.Context, ent *models.Entitlement, paidDate time.Time, excludeClaimID string) (Usage, error) {
	usage := Usage{UsedThisYear: decimal.Zero, CarryIn: decimal.Zero}

	switch ent.Unit {
	case models.UnitNoCap, models.UnitActual:
		// No window, no aggregation.
		return usage, nil

	case models.UnitMonthly:
		count, err := a.ledger.CountYear(ctx, ent.EmployeeID, ent.ExpenseType, paidDate.Year(), excludeClaimID)
		if err != nil {
			return usage, fmt.Errorf("count claims for %d: %w", paidDate.Year(), err)
		}
		usage.CountThisYear = count
		return usage, nil

	case models.UnitYearly:
		used, err := a.ledger.SumYear(ctx, ent.EmployeeID, ent.ExpenseType, paidDate.Year(), excludeClaimID)
		if err != nil {
			return usage, fmt.Errorf("sum claims for %d: %w", paidDate.Year(), err)
		}
		usage.UsedThisYear = used

		if ent.Rollover {
			carry, err := a.carryIn(ctx, ent, paidDate.Year(), excludeClaimID)
			if err != nil {
				return usage, err
			}
			usage.CarryIn = carry
		}
		return usage, nil

	default:
		return usage, fmt.Errorf("unknown entitlement unit %q", ent.Unit)
	}
}

// carryIn walks backward year-by-year while the entitlement active in the
// prior year is yearly with rollover enabled, summing each year's unused
// balance (floored at zero). The walk stops at the first year that breaks
// the chain, so carry never propagates across a non-rollover year.
func (a *Aggregator) carryIn(ctx context.Context, ent *models.Entitlement, year int, excludeClaimID string) (decimal.Decimal, error) {
	carry := decimal.Zero

	for step, y := 0, year-1; step < maxRolloverWalk; step, y = step+1, y-1 {
		// The rule in force at year end decides whether that year's unused
		// balance carries forward.
		asOf := time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)
		prior, err := a.entitlements.FindActive(ctx, ent.EmployeeID, ent.ExpenseType, asOf)
		if err != nil {
			return decimal.Zero, fmt.Errorf("find entitlement for year %d: %w", y, err)
		}
		if prior == nil || prior.Unit != models.UnitYearly || !prior.Rollover || !prior.HasCap() {
			break
		}

		used, err := a.ledger.SumYear(ctx, ent.EmployeeID, ent.ExpenseType, y, excludeClaimID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("sum claims for year %d: %w", y, err)
		}

		unused := prior.Amount.Sub(used)
		if unused.IsPositive() {
			carry = carry.Add(unused)
		}
	}

	return carry, nil
}
