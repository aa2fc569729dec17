package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/payrollhq/entitlement-engine/internal/models"
	"github.com/payrollhq/entitlement-engine/pkg/database"
)

const dateLayout = "2006-01-02"

// EntitlementRepository persists entitlement rules and enforces the
// non-overlap invariant per (employee, expense type).
type EntitlementRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewEntitlementRepository creates a new entitlement repository.
func NewEntitlementRepository(db *database.DB, logger *zap.Logger) *EntitlementRepository {
	return &EntitlementRepository{db: db, logger: logger}
}

// Create validates and inserts a new entitlement. The overlap check and the
// insert run in one transaction so two concurrent creates cannot both pass.
func (r *EntitlementRepository) Create(ctx context.Context, ent *models.Entitlement) error {
	if err := ent.Validate(); err != nil {
		return err
	}
	if ent.ID == "" {
		ent.ID = uuid.NewString()
	}
	now := time.Now()
	ent.CreatedAt = now
	ent.UpdatedAt = now

	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		if err := r.checkOverlap(ctx, tx, ent); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entitlements (
				id, employee_id, expense_type, amount, unit, rollover,
				start_date, end_date, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ent.ID, ent.EmployeeID, ent.ExpenseType,
			amountToNull(ent.Amount), string(ent.Unit), ent.Rollover,
			ent.StartDate.Format(dateLayout), dateToNull(ent.EndDate),
			ent.CreatedAt, ent.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if err != ErrEntitlementOverlap {
			r.logger.Error("Failed to create entitlement", zap.Error(err))
		}
		return err
	}
	return nil
}

// Update rewrites an existing entitlement, re-checking the overlap invariant
// against every other entitlement for the same employee and expense type.
func (r *EntitlementRepository) Update(ctx context.Context, ent *models.Entitlement) error {
	if err := ent.Validate(); err != nil {
		return err
	}
	ent.UpdatedAt = time.Now()

	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		if err := r.checkOverlap(ctx, tx, ent); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE entitlements
			SET employee_id = ?, expense_type = ?, amount = ?, unit = ?,
				rollover = ?, start_date = ?, end_date = ?, updated_at = ?
			WHERE id = ?
		`,
			ent.EmployeeID, ent.ExpenseType,
			amountToNull(ent.Amount), string(ent.Unit), ent.Rollover,
			ent.StartDate.Format(dateLayout), dateToNull(ent.EndDate),
			ent.UpdatedAt, ent.ID,
		)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrEntitlementNotFound
		}
		return nil
	})
	return err
}

// Delete removes an entitlement. Historical entitlements are usually kept so
// old claims stay explainable; deletion exists for administrative cleanup.
func (r *EntitlementRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM entitlements WHERE id = ?", id)
	if err != nil {
		r.logger.Error("Failed to delete entitlement", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("delete entitlement: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrEntitlementNotFound
	}
	return nil
}

// GetByID retrieves an entitlement by id.
func (r *EntitlementRepository) GetByID(ctx context.Context, id string) (*models.Entitlement, error) {
	row := r.db.QueryRowContext(ctx, selectEntitlement+" WHERE id = ?", id)
	ent, err := scanEntitlement(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntitlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlement: %w", err)
	}
	return ent, nil
}

// FindActive returns the entitlement whose [start_date, end_date) contains
// asOf, or (nil, nil) when none does. Periods never overlap, so at most one
// row matches.
func (r *EntitlementRepository) FindActive(ctx context.Context, employeeID, expenseType string, asOf time.Time) (*models.Entitlement, error) {
	day := asOf.Format(dateLayout)
	row := r.db.QueryRowContext(ctx, selectEntitlement+`
		WHERE employee_id = ? AND expense_type = ?
			AND start_date <= ?
			AND (end_date IS NULL OR end_date > ?)
		LIMIT 1
	`, employeeID, expenseType, day, day)

	ent, err := scanEntitlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find active entitlement",
			zap.String("employee_id", employeeID),
			zap.String("expense_type", expenseType),
			zap.Error(err))
		return nil, fmt.Errorf("find active entitlement: %w", err)
	}
	return ent, nil
}

// ListByEmployeeType returns all entitlements for an employee and expense
// type ordered by start date.
func (r *EntitlementRepository) ListByEmployeeType(ctx context.Context, employeeID, expenseType string) ([]*models.Entitlement, error) {
	rows, err := r.db.QueryContext(ctx, selectEntitlement+`
		WHERE employee_id = ? AND expense_type = ?
		ORDER BY start_date
	`, employeeID, expenseType)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var ents []*models.Entitlement
	for rows.Next() {
		ent, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		ents = append(ents, ent)
	}
	return ents, rows.Err()
}

// checkOverlap rejects the entitlement if its interval intersects another
// entitlement for the same employee+type. Half-open interval logic: two
// ranges overlap when each starts before the other ends.
func (r *EntitlementRepository) checkOverlap(ctx context.Context, tx *sql.Tx, ent *models.Entitlement) error {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM entitlements
		WHERE employee_id = ? AND expense_type = ? AND id != ?
			AND start_date < COALESCE(?, '9999-12-31')
			AND COALESCE(end_date, '9999-12-31') > ?
	`,
		ent.EmployeeID, ent.ExpenseType, ent.ID,
		dateToNull(ent.EndDate), ent.StartDate.Format(dateLayout),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if count > 0 {
		return ErrEntitlementOverlap
	}
	return nil
}

const selectEntitlement = `
	SELECT id, employee_id, expense_type, amount, unit, rollover,
		start_date, end_date, created_at, updated_at
	FROM entitlements
`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntitlement(row rowScanner) (*models.Entitlement, error) {
	var ent models.Entitlement
	var amount sql.NullString
	var unit string
	var startDate string
	var endDate sql.NullString

	err := row.Scan(
		&ent.ID, &ent.EmployeeID, &ent.ExpenseType,
		&amount, &unit, &ent.Rollover,
		&startDate, &endDate, &ent.CreatedAt, &ent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ent.Unit = models.Unit(unit)
	if amount.Valid {
		d, err := decimal.NewFromString(amount.String)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount.String, err)
		}
		ent.Amount = &d
	}
	ent.StartDate, err = time.Parse(dateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("parse start_date %q: %w", startDate, err)
	}
	if endDate.Valid {
		end, err := time.Parse(dateLayout, endDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse end_date %q: %w", endDate.String, err)
		}
		ent.EndDate = &end
	}
	return &ent, nil
}

func amountToNull(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func dateToNull(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}
