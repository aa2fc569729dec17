package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrollhq/entitlement-engine/internal/models"
)

func newValidator(ents *fakeEntitlements, claims *memClaims) *Validator {
	return NewValidator(ents, NewAggregator(ents, claims), 0)
}

func TestValidator_MonthlyPerClaimCap(t *testing.T) {
	ents := &fakeEntitlements{ents: []*models.Entitlement{{
		ID:          "ent-1",
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      decPtr("200"),
		Unit:        models.UnitMonthly,
		StartDate:   day(2025, time.January, 1),
	}}}
	v := newValidator(ents, newMemClaims())

	tests := []struct {
		name          string
		receipts      string
		wantValid     bool
		wantClaimable string
		wantReason    Reason
	}{
		{
			name:          "receipts above cap get capped",
			receipts:      "250",
			wantValid:     false,
			wantClaimable: "200.00",
			wantReason:    ReasonCapExceeded,
		},
		{
			name:          "receipts exactly at cap are fully payable",
			receipts:      "200",
			wantValid:     true,
			wantClaimable: "200.00",
			wantReason:    ReasonNone,
		},
		{
			name:          "receipts below cap are fully payable",
			receipts:      "37.50",
			wantValid:     true,
			wantClaimable: "37.50",
			wantReason:    ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(context.Background(), Input{
				EmployeeID:     "emp-1",
				ExpenseType:    "Gas",
				ReceiptsAmount: dec(tt.receipts),
				PaidDate:       day(2025, time.March, 10),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.wantClaimable, res.Claimable.StringFixed(2))
			assert.Equal(t, tt.wantReason, res.Reason)
		})
	}
}

func TestValidator_NoEntitlement(t *testing.T) {
	v := newValidator(&fakeEntitlements{}, newMemClaims())

	res, err := v.Validate(context.Background(), Input{
		EmployeeID:     "emp-1",
		ExpenseType:    "Mobile",
		ReceiptsAmount: dec("50"),
		PaidDate:       day(2025, time.June, 1),
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNoEntitlement, res.Reason)
	assert.True(t, res.Claimable.IsZero())
	assert.Contains(t, res.Message, "no active entitlement")
}

func TestValidator_YearlyAccumulation(t *testing.T) {
	ents := &fakeEntitlements{ents: []*models.Entitlement{
		yearlyEntitlement("emp-1", "Travel", "2400", false, day(2025, time.January, 1), day(2026, time.January, 1)),
	}}
	claims := newMemClaims()
	v := newValidator(ents, claims)

	// First claim of the year fits entirely.
	res, err := v.Validate(context.Background(), Input{
		EmployeeID:     "emp-1",
		ExpenseType:    "Travel",
		ReceiptsAmount: dec("1000"),
		PaidDate:       day(2025, time.February, 1),
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "1000.00", res.Claimable.StringFixed(2))

	// Commit it, then the second claim only has 1400 left.
	seedClaim(claims, "c-1", "emp-1", "Travel", "1000", day(2025, time.February, 1))

	res, err = v.Validate(context.Background(), Input{
		EmployeeID:     "emp-1",
		ExpenseType:    "Travel",
		ReceiptsAmount: dec("1500"),
		PaidDate:       day(2025, time.August, 1),
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonCapExceeded, res.Reason)
	assert.Equal(t, "1400.00", res.Claimable.StringFixed(2))
}

func TestValidator_RolloverCarryIn(t *testing.T) {
	// One continuing entitlement across 2024 and 2025, rollover enabled.
	ents := &fakeEntitlements{ents: []*models.Entitlement{
		yearlyEntitlement("emp-1", "Mobile", "1200", true, day(2024, time.January, 1), day(2026, time.January, 1)),
	}}
	claims := newMemClaims()
	seedClaim(claims, "c-2024", "emp-1", "Mobile", "800", day(2024, time.May, 10))
	v := newValidator(ents, claims)

	// 2024 left 400 unused, so 2025 has 1200 + 400 available.
	res, err := v.Validate(context.Background(), Input{
		EmployeeID:     "emp-1",
		ExpenseType:    "Mobile",
		ReceiptsAmount: dec("1600"),
		PaidDate:       day(2025, time.March, 1),
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "1600.00", res.Claimable.StringFixed(2))

	// One unit more than the carried total gets capped.
	res, err = v.Validate(context.Background(), Input{
		EmployeeID:     "emp-1",
		ExpenseType:    "Mobile",
		ReceiptsAmount: dec("1601"),
		PaidDate:       day(2025, time.March, 1),
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "1600.00", res.Claimable.StringFixed(2))
}

func TestValidator_RolloverStopsAtNonRolloverYear(t *testing.T) {
	// 2023 had rollover but 2024 did not: 2023's unused balance must not
	// reach 2025.
	ents := &fakeEntitlements{ents: []*models.Entitlement{
		yearlyEntitlement("emp-1", "Mobile", "1000", true, day(2023, time.January, 1), day(2024, time.January, 1)),
		yearlyEntitlement("emp-1", "Mobile", "1000", false, day(2024, time.January, 1), day(2025, time.January, 1)),
		yearlyEntitlement("emp-1", "Mobile", "1000", true, day(2025, time.January, 1), day(2026, time.January, 1)),
	}}
	claims := newMemClaims()
	v := newValidator(ents, claims)

	res, err := v.Validate(context.Background(), Input{
		EmployeeID:     "emp-1",
		ExpenseType:    "Mobile",
		ReceiptsAmount: dec("1500"),
		PaidDate:       day(2025, time.June, 1),
	})
	require.NoError(t, err)
	// The chain breaks at 2024, so nothing carries into 2025.
	assert.False(t, res.Valid)
	assert.Equal(t, "1000.00", res.Claimable.StringFixed(2))
}

func TestValidator_MonthlyAnnualCeiling(t *testing.T) {
	ents := &fakeEntitlements{ents: []*models.Entitlement{{
		ID:          "ent-1",
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      decPtr("200"),
		Unit:        models.UnitMonthly,
		StartDate:   day(2025, time.January, 1),
	}}}

	tests := []struct {
		name       string
		committed  int
		wantReason Reason
		wantValid  bool
	}{
		{name: "11 committed claims leave room", committed: 11, wantReason: ReasonNone, wantValid: true},
		{name: "12 committed claims hit the ceiling", committed: 12, wantReason: ReasonAnnualClaimCountExceeded, wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := newMemClaims()
			for i := 0; i < tt.committed; i++ {
				seedClaim(claims, fmt.Sprintf("c-%d", i), "emp-1", "Gas", "100", day(2025, time.January, 1+i))
			}
			v := newValidator(ents, claims)

			res, err := v.Validate(context.Background(), Input{
				EmployeeID:     "emp-1",
				ExpenseType:    "Gas",
				ReceiptsAmount: dec("100"),
				PaidDate:       day(2025, time.December, 1),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.wantReason, res.Reason)
			if !tt.wantValid {
				assert.True(t, res.Claimable.IsZero())
			}
		})
	}
}

func TestValidator_UnboundedUnits(t *testing.T) {
	for _, unit := range []models.Unit{models.UnitNoCap, models.UnitActual} {
		t.Run(string(unit), func(t *testing.T) {
			ents := &fakeEntitlements{ents: []*models.Entitlement{{
				ID:          "ent-1",
				EmployeeID:  "emp-1",
				ExpenseType: "Apparel",
				Unit:        unit,
				StartDate:   day(2025, time.January, 1),
			}}}
			v := newValidator(ents, newMemClaims())

			res, err := v.Validate(context.Background(), Input{
				EmployeeID:     "emp-1",
				ExpenseType:    "Apparel",
				ReceiptsAmount: dec("99999.99"),
				PaidDate:       day(2025, time.July, 4),
			})
			require.NoError(t, err)
			assert.True(t, res.Valid)
			assert.Equal(t, "99999.99", res.Claimable.StringFixed(2))
		})
	}
}

func TestValidator_IdempotentProbe(t *testing.T) {
	ents := &fakeEntitlements{ents: []*models.Entitlement{
		yearlyEntitlement("emp-1", "Travel", "2400", false, day(2025, time.January, 1), day(2026, time.January, 1)),
	}}
	claims := newMemClaims()
	seedClaim(claims, "c-1", "emp-1", "Travel", "900", day(2025, time.March, 3))
	v := newValidator(ents, claims)

	in := Input{
		EmployeeID:     "emp-1",
		ExpenseType:    "Travel",
		ReceiptsAmount: dec("2000"),
		PaidDate:       day(2025, time.October, 10),
	}

	first, err := v.Validate(context.Background(), in)
	require.NoError(t, err)
	second, err := v.Validate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.Valid, second.Valid)
	assert.Equal(t, first.Reason, second.Reason)
	assert.True(t, first.Claimable.Equal(second.Claimable))
	assert.Equal(t, first.Message, second.Message)
	assert.Equal(t, 1, claims.len()) // the probe wrote nothing
}

func TestValidator_NegativeReceiptsRejected(t *testing.T) {
	v := newValidator(&fakeEntitlements{}, newMemClaims())

	_, err := v.Validate(context.Background(), Input{
		EmployeeID:     "emp-1",
		ExpenseType:    "Gas",
		ReceiptsAmount: dec("-1"),
	})
	assert.Error(t, err)
}

func TestValidator_DefaultsPaidDateToToday(t *testing.T) {
	ents := &fakeEntitlements{ents: []*models.Entitlement{{
		ID:          "ent-1",
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      decPtr("200"),
		Unit:        models.UnitMonthly,
		StartDate:   day(2025, time.January, 1),
		EndDate:     datePtr(day(2026, time.January, 1)),
	}}}
	v := newValidator(ents, newMemClaims())
	v.now = func() time.Time { return day(2025, time.June, 15) }

	res, err := v.Validate(context.Background(), Input{
		EmployeeID:     "emp-1",
		ExpenseType:    "Gas",
		ReceiptsAmount: dec("100"),
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
