package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payrollhq/entitlement-engine/internal/models"
)

// fakeEntitlements is an in-memory EntitlementSource.
type fakeEntitlements struct {
	ents []*models.Entitlement
}

func (f *fakeEntitlements) FindActive(_ context.Context, employeeID, expenseType string, asOf time.Time) (*models.Entitlement, error) {
	for _, e := range f.ents {
		if e.EmployeeID == employeeID && e.ExpenseType == expenseType && e.ActiveOn(asOf) {
			return e, nil
		}
	}
	return nil, nil
}

// memClaims is an in-memory ClaimStore, safe for concurrent use.
type memClaims struct {
	mu        sync.Mutex
	claims    map[string]*models.Claim
	createErr func() error // optional fault injection on Create
}

func newMemClaims() *memClaims {
	return &memClaims{claims: make(map[string]*models.Claim)}
}

func (m *memClaims) Create(_ context.Context, claim *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		if err := m.createErr(); err != nil {
			return err
		}
	}
	copied := *claim
	m.claims[claim.ID] = &copied
	return nil
}

func (m *memClaims) GetByID(_ context.Context, id string) (*models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[id]
	if !ok {
		return nil, errClaimMissing
	}
	copied := *claim
	return &copied, nil
}

func (m *memClaims) Update(_ context.Context, claim *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[claim.ID]; !ok {
		return errClaimMissing
	}
	copied := *claim
	m.claims[claim.ID] = &copied
	return nil
}

func (m *memClaims) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[id]; !ok {
		return errClaimMissing
	}
	delete(m.claims, id)
	return nil
}

func (m *memClaims) SumYear(_ context.Context, employeeID, expenseType string, year int, excludeClaimID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, c := range m.claims {
		if c.EmployeeID == employeeID && c.ExpenseType == expenseType &&
			c.PaidDate.Year() == year && c.ID != excludeClaimID {
			total = total.Add(c.ClaimsAmount)
		}
	}
	return total, nil
}

func (m *memClaims) CountYear(_ context.Context, employeeID, expenseType string, year int, excludeClaimID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.claims {
		if c.EmployeeID == employeeID && c.ExpenseType == expenseType &&
			c.PaidDate.Year() == year && c.ID != excludeClaimID {
			count++
		}
	}
	return count, nil
}

func (m *memClaims) total() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, c := range m.claims {
		total = total.Add(c.ClaimsAmount)
	}
	return total
}

func (m *memClaims) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

var errClaimMissing = errNotFound("claim not found")

type errNotFound string

func (e errNotFound) Error() string { return string(e) }

// test helpers

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(t time.Time) *time.Time {
	return &t
}

func yearlyEntitlement(employeeID, expenseType, amount string, rollover bool, start, end time.Time) *models.Entitlement {
	return &models.Entitlement{
		ID:          "ent-" + employeeID + "-" + expenseType + "-" + start.Format("2006"),
		EmployeeID:  employeeID,
		ExpenseType: expenseType,
		Amount:      decPtr(amount),
		Unit:        models.UnitYearly,
		Rollover:    rollover,
		StartDate:   start,
		EndDate:     datePtr(end),
	}
}

func seedClaim(store *memClaims, id, employeeID, expenseType, amount string, paid time.Time) {
	store.claims[id] = &models.Claim{
		ID:             id,
		EmployeeID:     employeeID,
		ExpenseType:    expenseType,
		PaidDate:       paid,
		ReceiptsAmount: dec(amount),
		ClaimsAmount:   dec(amount),
		AllowedAmount:  dec(amount),
		CreatedAt:      paid,
	}
}
