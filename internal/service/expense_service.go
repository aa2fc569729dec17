package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payrollhq/entitlement-engine/internal/engine"
	"github.com/payrollhq/entitlement-engine/internal/metrics"
	"github.com/payrollhq/entitlement-engine/internal/models"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Authorizer is the external permission check for cap overrides. Role logic
// lives outside the engine; this interface only answers yes or no.
type Authorizer interface {
	CanOverrideExpenseCap(ctx context.Context, actorID string) (bool, error)
}

// EntitlementStore is the full entitlement repository contract the service
// needs.
type EntitlementStore interface {
	engine.EntitlementSource
	Create(ctx context.Context, ent *models.Entitlement) error
	Update(ctx context.Context, ent *models.Entitlement) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Entitlement, error)
	ListByEmployeeType(ctx context.Context, employeeID, expenseType string) ([]*models.Entitlement, error)
}

// ClaimReader lists and fetches committed claims.
type ClaimReader interface {
	GetByID(ctx context.Context, id string) (*models.Claim, error)
	ListByEmployeeType(ctx context.Context, employeeID, expenseType string, limit, offset int) ([]*models.Claim, error)
}

// ValidateRequest is a read-only claim probe.
type ValidateRequest struct {
	EmployeeID     string
	ExpenseType    string
	ReceiptsAmount decimal.Decimal
	PaidDate       time.Time // zero means today
}

// ClaimRequest is a claim submission or edit.
type ClaimRequest struct {
	EmployeeID       string
	ExpenseType      string
	PaidDate         time.Time
	ReceiptsAmount   decimal.Decimal
	OverrideApproved bool
	ApproverID       string
}

// EntitlementRequest carries the writable entitlement fields.
type EntitlementRequest struct {
	EmployeeID  string
	ExpenseType string
	Amount      *decimal.Decimal
	Unit        models.Unit
	Rollover    bool
	StartDate   time.Time
	EndDate     *time.Time
}

// ExpenseService is the engine facade the transport layer consumes.
type ExpenseService interface {
	ValidateClaim(ctx context.Context, req ValidateRequest) (engine.Result, error)
	CreateClaim(ctx context.Context, req ClaimRequest) (*models.Claim, error)
	UpdateClaim(ctx context.Context, claimID string, req ClaimRequest) (*models.Claim, error)
	DeleteClaim(ctx context.Context, claimID string) error
	GetClaim(ctx context.Context, claimID string) (*models.Claim, error)
	ListClaims(ctx context.Context, employeeID, expenseType string, limit, offset int) ([]*models.Claim, error)

	CreateEntitlement(ctx context.Context, req EntitlementRequest) (*models.Entitlement, error)
	UpdateEntitlement(ctx context.Context, id string, req EntitlementRequest) (*models.Entitlement, error)
	DeleteEntitlement(ctx context.Context, id string) error
	GetEntitlement(ctx context.Context, id string) (*models.Entitlement, error)
	ListEntitlements(ctx context.Context, employeeID, expenseType string) ([]*models.Entitlement, error)
}

type expenseServiceImpl struct {
	validator    *engine.Validator
	committer    *engine.Committer
	entitlements EntitlementStore
	claims       ClaimReader
	locks        *engine.KeyLock
	authorizer   Authorizer
	metrics      *metrics.EngineMetrics
	logger       Logger
}

// NewExpenseService creates the engine facade. metrics may be nil in tests.
func NewExpenseService(
	validator *engine.Validator,
	committer *engine.Committer,
	entitlements EntitlementStore,
	claims ClaimReader,
	locks *engine.KeyLock,
	authorizer Authorizer,
	m *metrics.EngineMetrics,
	logger Logger,
) ExpenseService {
	return &expenseServiceImpl{
		validator:    validator,
		committer:    committer,
		entitlements: entitlements,
		claims:       claims,
		locks:        locks,
		authorizer:   authorizer,
		metrics:      m,
		logger:       logger,
	}
}

// ValidateClaim runs the side-effect-free probe. Identical inputs with no
// intervening commits return identical results.
func (s *expenseServiceImpl) ValidateClaim(ctx context.Context, req ValidateRequest) (engine.Result, error) {
	if err := validateClaimInput(req.EmployeeID, req.ExpenseType, req.ReceiptsAmount); err != nil {
		return engine.Result{}, err
	}

	res, err := s.validator.Validate(ctx, engine.Input{
		EmployeeID:     req.EmployeeID,
		ExpenseType:    req.ExpenseType,
		ReceiptsAmount: req.ReceiptsAmount,
		PaidDate:       req.PaidDate,
	})
	if err != nil {
		s.logger.Error("Claim validation failed", "error", err, "employee_id", req.EmployeeID)
		return engine.Result{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveValidation(string(res.Reason))
	}
	return res, nil
}

// CreateClaim authorizes any override intent and hands the submission to the
// commit step.
func (s *expenseServiceImpl) CreateClaim(ctx context.Context, req ClaimRequest) (*models.Claim, error) {
	if err := validateClaimInput(req.EmployeeID, req.ExpenseType, req.ReceiptsAmount); err != nil {
		return nil, err
	}
	if req.PaidDate.IsZero() {
		return nil, fmt.Errorf("paid_date is required")
	}
	if err := s.authorizeOverride(ctx, req); err != nil {
		return nil, err
	}

	claim, err := s.committer.Commit(ctx, engine.CommitInput{
		EmployeeID:       req.EmployeeID,
		ExpenseType:      req.ExpenseType,
		PaidDate:         req.PaidDate,
		ReceiptsAmount:   req.ReceiptsAmount,
		OverrideApproved: req.OverrideApproved,
		ApproverID:       req.ApproverID,
	})
	if err != nil {
		s.observeCommitError(err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveCommit(claim.OverrideApproved)
	}
	return claim, nil
}

// UpdateClaim re-validates and rewrites an existing claim.
func (s *expenseServiceImpl) UpdateClaim(ctx context.Context, claimID string, req ClaimRequest) (*models.Claim, error) {
	if req.ReceiptsAmount.IsNegative() {
		return nil, fmt.Errorf("receipts_amount must be non-negative")
	}
	if req.PaidDate.IsZero() {
		return nil, fmt.Errorf("paid_date is required")
	}
	if err := s.authorizeOverride(ctx, req); err != nil {
		return nil, err
	}

	claim, err := s.committer.UpdateClaim(ctx, claimID, engine.CommitInput{
		PaidDate:         req.PaidDate,
		ReceiptsAmount:   req.ReceiptsAmount,
		OverrideApproved: req.OverrideApproved,
		ApproverID:       req.ApproverID,
	})
	if err != nil {
		s.observeCommitError(err)
		return nil, err
	}
	return claim, nil
}

// DeleteClaim removes a claim; later aggregations see the change immediately.
func (s *expenseServiceImpl) DeleteClaim(ctx context.Context, claimID string) error {
	return s.committer.DeleteClaim(ctx, claimID)
}

func (s *expenseServiceImpl) GetClaim(ctx context.Context, claimID string) (*models.Claim, error) {
	return s.claims.GetByID(ctx, claimID)
}

func (s *expenseServiceImpl) ListClaims(ctx context.Context, employeeID, expenseType string, limit, offset int) ([]*models.Claim, error) {
	return s.claims.ListByEmployeeType(ctx, employeeID, expenseType, limit, offset)
}

// CreateEntitlement writes a new entitlement rule under the same per-key
// lock the commit step uses, so commits never validate against a rule that
// is being replaced mid-flight.
func (s *expenseServiceImpl) CreateEntitlement(ctx context.Context, req EntitlementRequest) (*models.Entitlement, error) {
	ent := entitlementFromRequest(req)

	unlock := s.locks.Lock(engine.LockKey(ent.EmployeeID, ent.ExpenseType))
	defer unlock()

	if err := s.entitlements.Create(ctx, ent); err != nil {
		return nil, err
	}
	s.logger.Info("Entitlement created", "id", ent.ID, "employee_id", ent.EmployeeID, "expense_type", ent.ExpenseType)
	return ent, nil
}

// UpdateEntitlement rewrites an entitlement rule under the per-key lock.
func (s *expenseServiceImpl) UpdateEntitlement(ctx context.Context, id string, req EntitlementRequest) (*models.Entitlement, error) {
	ent := entitlementFromRequest(req)
	ent.ID = id

	unlock := s.locks.Lock(engine.LockKey(ent.EmployeeID, ent.ExpenseType))
	defer unlock()

	if err := s.entitlements.Update(ctx, ent); err != nil {
		return nil, err
	}
	return ent, nil
}

// DeleteEntitlement removes an entitlement rule. Historical rules are
// normally retained so old claims stay explainable.
func (s *expenseServiceImpl) DeleteEntitlement(ctx context.Context, id string) error {
	ent, err := s.entitlements.GetByID(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(engine.LockKey(ent.EmployeeID, ent.ExpenseType))
	defer unlock()

	return s.entitlements.Delete(ctx, id)
}

func (s *expenseServiceImpl) GetEntitlement(ctx context.Context, id string) (*models.Entitlement, error) {
	return s.entitlements.GetByID(ctx, id)
}

func (s *expenseServiceImpl) ListEntitlements(ctx context.Context, employeeID, expenseType string) ([]*models.Entitlement, error) {
	return s.entitlements.ListByEmployeeType(ctx, employeeID, expenseType)
}

func (s *expenseServiceImpl) authorizeOverride(ctx context.Context, req ClaimRequest) error {
	if !req.OverrideApproved {
		return nil
	}
	if req.ApproverID == "" {
		return engine.ErrApproverRequired
	}
	allowed, err := s.authorizer.CanOverrideExpenseCap(ctx, req.ApproverID)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}
	if !allowed {
		return engine.ErrOverrideNotPermitted
	}
	return nil
}

func (s *expenseServiceImpl) observeCommitError(err error) {
	if s.metrics == nil {
		return
	}
	var rejected *engine.RejectedError
	switch {
	case errors.As(err, &rejected):
		s.metrics.ObserveRejection(string(rejected.Reason))
	case errors.Is(err, engine.ErrConcurrencyConflict):
		s.metrics.ObserveConflict()
	}
}

func validateClaimInput(employeeID, expenseType string, receipts decimal.Decimal) error {
	if employeeID == "" {
		return fmt.Errorf("employee_id is required")
	}
	if expenseType == "" {
		return fmt.Errorf("expense_type is required")
	}
	if receipts.IsNegative() {
		return fmt.Errorf("receipts_amount must be non-negative")
	}
	return nil
}

func entitlementFromRequest(req EntitlementRequest) *models.Entitlement {
	return &models.Entitlement{
		EmployeeID:  req.EmployeeID,
		ExpenseType: req.ExpenseType,
		Amount:      req.Amount,
		Unit:        req.Unit,
		Rollover:    req.Rollover,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}
}
