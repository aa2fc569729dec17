package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/payrollhq/entitlement-engine/internal/models"
)

func TestEntitlementRepository_CreateAndGet(t *testing.T) {
	repo := NewEntitlementRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	end := testDay(2026, time.January, 1)
	ent := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "200.50"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
		EndDate:     &end,
	}
	require.NoError(t, repo.Create(ctx, ent))
	require.NotEmpty(t, ent.ID)

	got, err := repo.GetByID(ctx, ent.ID)
	require.NoError(t, err)
	assert.Equal(t, "emp-1", got.EmployeeID)
	assert.Equal(t, models.UnitMonthly, got.Unit)
	require.NotNil(t, got.Amount)
	assert.True(t, got.Amount.Equal(testDec(t, "200.50")), "amount round-trips exactly")
	require.NotNil(t, got.EndDate)
	assert.Equal(t, end, *got.EndDate)
}

func TestEntitlementRepository_NilAmountAndOpenEnd(t *testing.T) {
	repo := NewEntitlementRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	ent := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Parking",
		Unit:        models.UnitNoCap,
		StartDate:   testDay(2025, time.January, 1),
	}
	require.NoError(t, repo.Create(ctx, ent))

	got, err := repo.GetByID(ctx, ent.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Amount)
	assert.Nil(t, got.EndDate)
}

func TestEntitlementRepository_OverlapRejected(t *testing.T) {
	repo := NewEntitlementRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	end := testDay(2026, time.January, 1)
	first := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "200"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
		EndDate:     &end,
	}
	require.NoError(t, repo.Create(ctx, first))

	tests := []struct {
		name    string
		start   time.Time
		end     *time.Time
		overlap bool
	}{
		{
			name:    "inside existing range",
			start:   testDay(2025, time.June, 1),
			end:     timePtr(testDay(2025, time.September, 1)),
			overlap: true,
		},
		{
			name:    "open-ended starting inside",
			start:   testDay(2025, time.June, 1),
			overlap: true,
		},
		{
			name:    "straddling the end",
			start:   testDay(2025, time.December, 1),
			end:     timePtr(testDay(2026, time.June, 1)),
			overlap: true,
		},
		{
			name:  "adjacent after, start equals prior end",
			start: testDay(2026, time.January, 1),
			end:   timePtr(testDay(2027, time.January, 1)),
		},
		{
			name:  "fully before",
			start: testDay(2024, time.January, 1),
			end:   timePtr(testDay(2025, time.January, 1)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := &models.Entitlement{
				EmployeeID:  "emp-1",
				ExpenseType: "Gas",
				Amount:      testDecPtr(t, "300"),
				Unit:        models.UnitMonthly,
				StartDate:   tt.start,
				EndDate:     tt.end,
			}
			err := repo.Create(ctx, ent)
			if tt.overlap {
				assert.ErrorIs(t, err, ErrEntitlementOverlap)
			} else {
				assert.NoError(t, err)
				// Keep the table cases independent.
				require.NoError(t, repo.Delete(ctx, ent.ID))
			}
		})
	}
}

func TestEntitlementRepository_OverlapScopedToEmployeeAndType(t *testing.T) {
	repo := NewEntitlementRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	base := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "200"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
	}
	require.NoError(t, repo.Create(ctx, base))

	otherEmployee := &models.Entitlement{
		EmployeeID:  "emp-2",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "200"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
	}
	assert.NoError(t, repo.Create(ctx, otherEmployee))

	otherType := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Mobile",
		Amount:      testDecPtr(t, "50"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
	}
	assert.NoError(t, repo.Create(ctx, otherType))
}

func TestEntitlementRepository_UpdateSkipsSelfInOverlapCheck(t *testing.T) {
	repo := NewEntitlementRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	ent := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "200"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
	}
	require.NoError(t, repo.Create(ctx, ent))

	ent.Amount = testDecPtr(t, "250")
	require.NoError(t, repo.Update(ctx, ent))

	got, err := repo.GetByID(ctx, ent.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(testDec(t, "250")))
}

func TestEntitlementRepository_UpdateIntoOverlapRejected(t *testing.T) {
	repo := NewEntitlementRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	endA := testDay(2025, time.July, 1)
	a := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "200"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
		EndDate:     &endA,
	}
	require.NoError(t, repo.Create(ctx, a))

	b := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "250"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.July, 1),
	}
	require.NoError(t, repo.Create(ctx, b))

	b.StartDate = testDay(2025, time.June, 1)
	assert.ErrorIs(t, repo.Update(ctx, b), ErrEntitlementOverlap)
}

func TestEntitlementRepository_FindActive(t *testing.T) {
	repo := NewEntitlementRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	end := testDay(2026, time.January, 1)
	ent := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "200"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
		EndDate:     &end,
	}
	require.NoError(t, repo.Create(ctx, ent))

	got, err := repo.FindActive(ctx, "emp-1", "Gas", testDay(2025, time.June, 15))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ent.ID, got.ID)

	// Start is inclusive, end is exclusive.
	got, err = repo.FindActive(ctx, "emp-1", "Gas", testDay(2025, time.January, 1))
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = repo.FindActive(ctx, "emp-1", "Gas", testDay(2026, time.January, 1))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.FindActive(ctx, "emp-1", "Gas", testDay(2024, time.December, 31))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.FindActive(ctx, "emp-2", "Gas", testDay(2025, time.June, 15))
	require.NoError(t, err)
	assert.Nil(t, got, "no entitlement is not an error")
}

func TestEntitlementRepository_DeleteAndNotFound(t *testing.T) {
	repo := NewEntitlementRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	ent := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "200"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
	}
	require.NoError(t, repo.Create(ctx, ent))
	require.NoError(t, repo.Delete(ctx, ent.ID))

	_, err := repo.GetByID(ctx, ent.ID)
	assert.ErrorIs(t, err, ErrEntitlementNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, ent.ID), ErrEntitlementNotFound)
}

func TestEntitlementRepository_ListByEmployeeType(t *testing.T) {
	repo := NewEntitlementRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	end2024 := testDay(2025, time.January, 1)
	older := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "150"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2024, time.January, 1),
		EndDate:     &end2024,
	}
	newer := &models.Entitlement{
		EmployeeID:  "emp-1",
		ExpenseType: "Gas",
		Amount:      testDecPtr(t, "200"),
		Unit:        models.UnitMonthly,
		StartDate:   testDay(2025, time.January, 1),
	}
	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, older))

	ents, err := repo.ListByEmployeeType(ctx, "emp-1", "Gas")
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, older.ID, ents[0].ID, "ordered by start date")
	assert.Equal(t, newer.ID, ents[1].ID)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
