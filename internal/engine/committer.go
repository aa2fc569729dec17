package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/payrollhq/entitlement-engine/internal/models"
	"github.com/payrollhq/entitlement-engine/internal/repository"
)

// defaultCommitRetries bounds the internal retry loop around transient
// storage conflicts before ErrConcurrencyConflict is surfaced.
const defaultCommitRetries = 3

// ClaimStore is the write side of the claim ledger the committer depends on.
type ClaimStore interface {
	ClaimLedger
	Create(ctx context.Context, claim *models.Claim) error
	GetByID(ctx context.Context, id string) (*models.Claim, error)
	Update(ctx context.Context, claim *models.Claim) error
	Delete(ctx context.Context, id string) error
}

// CommitInput is a claim submission. Override fields are caller-supplied
// intent; authorization of the approver happens upstream.
type CommitInput struct {
	EmployeeID       string
	ExpenseType      string
	PaidDate         time.Time
	ReceiptsAmount   decimal.Decimal
	OverrideApproved bool
	ApproverID       string
}

// Committer is the only mutating entry point of the engine. It serializes
// validate-then-write per (employee, expense type) so two concurrent
// submissions cannot both spend the same remaining balance.
type Committer struct {
	validator  *Validator
	claims     ClaimStore
	locks      *KeyLock
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewCommitter creates a commit step. maxRetries <= 0 falls back to the
// default retry budget.
func NewCommitter(validator *Validator, claims ClaimStore, locks *KeyLock, maxRetries int, logger *zap.Logger) *Committer {
	if maxRetries <= 0 {
		maxRetries = defaultCommitRetries
	}
	return &Committer{
		validator:  validator,
		claims:     claims,
		locks:      locks,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Commit re-validates against the current ledger state and writes the claim
// atomically. Re-validation happens inside the per-key lock, which closes
// the time-of-check/time-of-use gap against concurrent commits.
func (c *Committer) Commit(ctx context.Context, in CommitInput) (*models.Claim, error) {
	if in.OverrideApproved && in.ApproverID == "" {
		return nil, ErrApproverRequired
	}

	unlock := c.locks.Lock(LockKey(in.EmployeeID, in.ExpenseType))
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		claim, err := c.commitOnce(ctx, in, "")
		if err == nil {
			return claim, nil
		}
		if !repository.IsConflict(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("Retrying claim commit after storage conflict",
			zap.String("employee_id", in.EmployeeID),
			zap.String("expense_type", in.ExpenseType),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, lastErr)
}

// commitOnce runs one validate-then-write pass. existingID is empty for new
// claims and set on the edit path, where the claim under edit is excluded
// from aggregation.
func (c *Committer) commitOnce(ctx context.Context, in CommitInput, existingID string) (*models.Claim, error) {
	res, err := c.validator.Validate(ctx, Input{
		EmployeeID:     in.EmployeeID,
		ExpenseType:    in.ExpenseType,
		ReceiptsAmount: in.ReceiptsAmount,
		PaidDate:       in.PaidDate,
		ExcludeClaimID: existingID,
	})
	if err != nil {
		return nil, err
	}

	// A missing entitlement produces no record at all. The annual claim
	// ceiling likewise refuses the commit outright unless overridden;
	// exhaustion of a yearly amount still writes a $0 claim for audit.
	switch {
	case res.Reason == ReasonNoEntitlement:
		return nil, &RejectedError{Reason: res.Reason, Claimable: res.Claimable, cause: ErrNoEntitlement}
	case res.Reason == ReasonAnnualClaimCountExceeded && !in.OverrideApproved:
		return nil, &RejectedError{Reason: res.Reason, Claimable: res.Claimable, cause: ErrAnnualClaimCountExceeded}
	}

	claim := &models.Claim{
		ID:             existingID,
		EmployeeID:     in.EmployeeID,
		ExpenseType:    in.ExpenseType,
		PaidDate:       in.PaidDate,
		ReceiptsAmount: in.ReceiptsAmount,
		AllowedAmount:  res.Claimable,
		CreatedAt:      c.now(),
	}
	if in.OverrideApproved {
		// Override pays the full requested amount. The computed claimable
		// stays on the record as AllowedAmount so the bypassed cap remains
		// recoverable.
		now := c.now()
		claim.ClaimsAmount = in.ReceiptsAmount
		claim.OverrideApproved = true
		claim.ApproverID = in.ApproverID
		claim.ApprovedAt = &now
	} else {
		claim.ClaimsAmount = res.Claimable
	}

	if existingID == "" {
		claim.ID = uuid.NewString()
		if err := c.claims.Create(ctx, claim); err != nil {
			return nil, err
		}
	} else {
		if err := c.claims.Update(ctx, claim); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Claim committed",
		zap.String("claim_id", claim.ID),
		zap.String("employee_id", claim.EmployeeID),
		zap.String("expense_type", claim.ExpenseType),
		zap.String("claims_amount", claim.ClaimsAmount.StringFixed(2)),
		zap.Bool("override", claim.OverrideApproved))
	return claim, nil
}

// UpdateClaim re-validates and rewrites an existing claim. The claim itself
// is excluded from aggregation so its old amount does not count against the
// new one. Employee and expense type are fixed for the life of a claim.
func (c *Committer) UpdateClaim(ctx context.Context, claimID string, in CommitInput) (*models.Claim, error) {
	if in.OverrideApproved && in.ApproverID == "" {
		return nil, ErrApproverRequired
	}

	existing, err := c.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}

	in.EmployeeID = existing.EmployeeID
	in.ExpenseType = existing.ExpenseType

	unlock := c.locks.Lock(LockKey(existing.EmployeeID, existing.ExpenseType))
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		claim, err := c.commitOnce(ctx, in, claimID)
		if err == nil {
			claim.CreatedAt = existing.CreatedAt
			return claim, nil
		}
		if !repository.IsConflict(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, lastErr)
}

// DeleteClaim removes a claim from the ledger. Later aggregations for the
// same period see the deletion immediately; other claims' stored amounts are
// historical facts and stay untouched.
func (c *Committer) DeleteClaim(ctx context.Context, claimID string) error {
	existing, err := c.claims.GetByID(ctx, claimID)
	if err != nil {
		return err
	}

	unlock := c.locks.Lock(LockKey(existing.EmployeeID, existing.ExpenseType))
	defer unlock()

	return c.claims.Delete(ctx, claimID)
}
