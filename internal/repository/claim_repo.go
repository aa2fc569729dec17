package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/payrollhq/entitlement-engine/internal/models"
	"github.com/payrollhq/entitlement-engine/pkg/database"
)

// ClaimRepository persists committed claims and answers the calendar-year
// aggregation queries the period aggregator needs.
type ClaimRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewClaimRepository creates a new claim repository.
func NewClaimRepository(db *database.DB, logger *zap.Logger) *ClaimRepository {
	return &ClaimRepository{db: db, logger: logger}
}

// Create inserts a committed claim.
func (r *ClaimRepository) Create(ctx context.Context, claim *models.Claim) error {
	if err := claim.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO claims (
			id, employee_id, expense_type, paid_date,
			receipts_amount, claims_amount, allowed_amount,
			override_approved, approver_id, approved_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		claim.ID, claim.EmployeeID, claim.ExpenseType,
		claim.PaidDate.Format(dateLayout),
		claim.ReceiptsAmount.String(), claim.ClaimsAmount.String(), claim.AllowedAmount.String(),
		claim.OverrideApproved, claim.ApproverID, claim.ApprovedAt, claim.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create claim", zap.String("id", claim.ID), zap.Error(err))
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

// Update rewrites a claim's amounts and override fields. created_at stays as
// originally written.
func (r *ClaimRepository) Update(ctx context.Context, claim *models.Claim) error {
	if err := claim.Validate(); err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE claims
		SET paid_date = ?, receipts_amount = ?, claims_amount = ?,
			allowed_amount = ?, override_approved = ?, approver_id = ?, approved_at = ?
		WHERE id = ?
	`,
		claim.PaidDate.Format(dateLayout),
		claim.ReceiptsAmount.String(), claim.ClaimsAmount.String(), claim.AllowedAmount.String(),
		claim.OverrideApproved, claim.ApproverID, claim.ApprovedAt,
		claim.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update claim", zap.String("id", claim.ID), zap.Error(err))
		return fmt.Errorf("update claim: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrClaimNotFound
	}
	return nil
}

// Delete removes a claim from the ledger.
func (r *ClaimRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM claims WHERE id = ?", id)
	if err != nil {
		r.logger.Error("Failed to delete claim", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("delete claim: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrClaimNotFound
	}
	return nil
}

// GetByID retrieves a claim by id.
func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*models.Claim, error) {
	row := r.db.QueryRowContext(ctx, selectClaim+" WHERE id = ?", id)
	claim, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return claim, nil
}

// ListByEmployeeType returns claims for an employee and expense type, newest
// paid date first.
func (r *ClaimRepository) ListByEmployeeType(ctx context.Context, employeeID, expenseType string, limit, offset int) ([]*models.Claim, error) {
	rows, err := r.db.QueryContext(ctx, selectClaim+`
		WHERE employee_id = ? AND expense_type = ?
		ORDER BY paid_date DESC, created_at DESC
		LIMIT ? OFFSET ?
	`, employeeID, expenseType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var claims []*models.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

// SumYear sums claims_amount for the calendar year, excluding at most one
// claim by id. Amounts are summed as decimals in Go; SQLite SUM over REAL
// casts would lose minor-unit precision.
func (r *ClaimRepository) SumYear(ctx context.Context, employeeID, expenseType string, year int, excludeClaimID string) (decimal.Decimal, error) {
	from, to := yearBounds(year)
	rows, err := r.db.QueryContext(ctx, `
		SELECT claims_amount FROM claims
		WHERE employee_id = ? AND expense_type = ?
			AND paid_date >= ? AND paid_date < ?
			AND id != ?
	`, employeeID, expenseType, from, to, excludeClaimID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum claims: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("scan claims_amount: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse claims_amount %q: %w", raw, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// CountYear counts committed claims for the calendar year, excluding at most
// one claim by id.
func (r *ClaimRepository) CountYear(ctx context.Context, employeeID, expenseType string, year int, excludeClaimID string) (int, error) {
	from, to := yearBounds(year)
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM claims
		WHERE employee_id = ? AND expense_type = ?
			AND paid_date >= ? AND paid_date < ?
			AND id != ?
	`, employeeID, expenseType, from, to, excludeClaimID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count claims: %w", err)
	}
	return count, nil
}

func yearBounds(year int) (from, to string) {
	return fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-01-01", year+1)
}

const selectClaim = `
	SELECT id, employee_id, expense_type, paid_date,
		receipts_amount, claims_amount, allowed_amount,
		override_approved, approver_id, approved_at, created_at
	FROM claims
`

func scanClaim(row rowScanner) (*models.Claim, error) {
	var claim models.Claim
	var paidDate string
	var receipts, claims, allowed string
	var approvedAt sql.NullTime

	err := row.Scan(
		&claim.ID, &claim.EmployeeID, &claim.ExpenseType, &paidDate,
		&receipts, &claims, &allowed,
		&claim.OverrideApproved, &claim.ApproverID, &approvedAt, &claim.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	claim.PaidDate, err = time.Parse(dateLayout, paidDate)
	if err != nil {
		return nil, fmt.Errorf("parse paid_date %q: %w", paidDate, err)
	}
	if claim.ReceiptsAmount, err = decimal.NewFromString(receipts); err != nil {
		return nil, fmt.Errorf("parse receipts_amount %q: %w", receipts, err)
	}
	if claim.ClaimsAmount, err = decimal.NewFromString(claims); err != nil {
		return nil, fmt.Errorf("parse claims_amount %q: %w", claims, err)
	}
	if claim.AllowedAmount, err = decimal.NewFromString(allowed); err != nil {
		return nil, fmt.Errorf("parse allowed_amount %q: %w", allowed, err)
	}
	if approvedAt.Valid {
		claim.ApprovedAt = &approvedAt.Time
	}
	return &claim, nil
}
