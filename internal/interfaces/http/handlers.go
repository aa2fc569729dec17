package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/payrollhq/entitlement-engine/internal/engine"
	"github.com/payrollhq/entitlement-engine/internal/models"
	"github.com/payrollhq/entitlement-engine/internal/repository"
	"github.com/payrollhq/entitlement-engine/internal/service"
)

const dateLayout = "2006-01-02"

// Handlers contains all HTTP request handlers
type Handlers struct {
	expenses service.ExpenseService
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(expenses service.ExpenseService, logger Logger) *Handlers {
	return &Handlers{expenses: expenses, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ValidateClaimRequest is the body of POST /api/v1/claims/validate.
type ValidateClaimRequest struct {
	EmployeeID     string `json:"employee_id" binding:"required"`
	ExpenseType    string `json:"expense_type" binding:"required"`
	ReceiptsAmount string `json:"receipts_amount" binding:"required"`
	PaidDate       string `json:"paid_date"` // YYYY-MM-DD, empty means today
}

// ValidateClaimResponse reports the probe outcome. ClaimableAmount is always
// present, even on rejection, so callers can show exactly how much is
// payable.
type ValidateClaimResponse struct {
	Valid           bool   `json:"valid"`
	ClaimableAmount string `json:"claimable_amount"`
	Reason          string `json:"reason,omitempty"`
	Message         string `json:"message"`
}

// ClaimRequest is the body of POST /api/v1/claims and PUT /api/v1/claims/:id.
type ClaimRequest struct {
	EmployeeID       string `json:"employee_id"`
	ExpenseType      string `json:"expense_type"`
	PaidDate         string `json:"paid_date" binding:"required"`
	ReceiptsAmount   string `json:"receipts_amount" binding:"required"`
	OverrideApproved bool   `json:"override_approved"`
	ApproverID       string `json:"approver_id"`
}

// ClaimResponse represents a committed claim in API responses.
type ClaimResponse struct {
	ID               string  `json:"id"`
	EmployeeID       string  `json:"employee_id"`
	ExpenseType      string  `json:"expense_type"`
	PaidDate         string  `json:"paid_date"`
	ReceiptsAmount   string  `json:"receipts_amount"`
	ClaimsAmount     string  `json:"claims_amount"`
	AllowedAmount    string  `json:"allowed_amount"`
	OverrideApproved bool    `json:"override_approved"`
	ApproverID       string  `json:"approver_id,omitempty"`
	ApprovedAt       *string `json:"approved_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// EntitlementRequest is the body of entitlement create/update calls.
type EntitlementRequest struct {
	EmployeeID  string  `json:"employee_id" binding:"required"`
	ExpenseType string  `json:"expense_type" binding:"required"`
	Amount      *string `json:"amount"`
	Unit        string  `json:"unit" binding:"required"`
	Rollover    bool    `json:"rollover"`
	StartDate   string  `json:"start_date" binding:"required"`
	EndDate     *string `json:"end_date"`
}

// EntitlementResponse represents an entitlement in API responses.
type EntitlementResponse struct {
	ID          string  `json:"id"`
	EmployeeID  string  `json:"employee_id"`
	ExpenseType string  `json:"expense_type"`
	Amount      *string `json:"amount,omitempty"`
	Unit        string  `json:"unit"`
	Rollover    bool    `json:"rollover"`
	StartDate   string  `json:"start_date"`
	EndDate     *string `json:"end_date,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// ValidateClaim handles POST /api/v1/claims/validate
func (h *Handlers) ValidateClaim(c *gin.Context) {
	var req ValidateClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	receipts, err := decimal.NewFromString(req.ReceiptsAmount)
	if err != nil {
		badRequest(c, "invalid receipts_amount")
		return
	}
	paidDate, ok := parseOptionalDate(c, req.PaidDate)
	if !ok {
		return
	}

	res, err := h.expenses.ValidateClaim(c.Request.Context(), service.ValidateRequest{
		EmployeeID:     req.EmployeeID,
		ExpenseType:    req.ExpenseType,
		ReceiptsAmount: receipts,
		PaidDate:       paidDate,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: ValidateClaimResponse{
			Valid:           res.Valid,
			ClaimableAmount: res.Claimable.StringFixed(2),
			Reason:          string(res.Reason),
			Message:         res.Message,
		},
	})
}

// CreateClaim handles POST /api/v1/claims
func (h *Handlers) CreateClaim(c *gin.Context) {
	req, ok := h.bindClaimRequest(c, true)
	if !ok {
		return
	}

	claim, err := h.expenses.CreateClaim(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: toClaimResponse(claim)})
}

// UpdateClaim handles PUT /api/v1/claims/:id
func (h *Handlers) UpdateClaim(c *gin.Context) {
	req, ok := h.bindClaimRequest(c, false)
	if !ok {
		return
	}

	claim, err := h.expenses.UpdateClaim(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: toClaimResponse(claim)})
}

// DeleteClaim handles DELETE /api/v1/claims/:id
func (h *Handlers) DeleteClaim(c *gin.Context) {
	if err := h.expenses.DeleteClaim(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// GetClaim handles GET /api/v1/claims/:id
func (h *Handlers) GetClaim(c *gin.Context) {
	claim, err := h.expenses.GetClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toClaimResponse(claim)})
}

// ListClaims handles GET /api/v1/claims?employee_id=&expense_type=
func (h *Handlers) ListClaims(c *gin.Context) {
	var query struct {
		EmployeeID  string `form:"employee_id" binding:"required"`
		ExpenseType string `form:"expense_type" binding:"required"`
		Limit       int    `form:"limit"`
		Offset      int    `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "invalid query parameters: "+err.Error())
		return
	}
	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 20
	}
	if query.Offset < 0 {
		query.Offset = 0
	}

	claims, err := h.expenses.ListClaims(c.Request.Context(), query.EmployeeID, query.ExpenseType, query.Limit, query.Offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	responses := make([]ClaimResponse, 0, len(claims))
	for _, claim := range claims {
		responses = append(responses, toClaimResponse(claim))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: responses})
}

// CreateEntitlement handles POST /api/v1/entitlements
func (h *Handlers) CreateEntitlement(c *gin.Context) {
	req, ok := h.bindEntitlementRequest(c)
	if !ok {
		return
	}

	ent, err := h.expenses.CreateEntitlement(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: toEntitlementResponse(ent)})
}

// UpdateEntitlement handles PUT /api/v1/entitlements/:id
func (h *Handlers) UpdateEntitlement(c *gin.Context) {
	req, ok := h.bindEntitlementRequest(c)
	if !ok {
		return
	}

	ent, err := h.expenses.UpdateEntitlement(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toEntitlementResponse(ent)})
}

// DeleteEntitlement handles DELETE /api/v1/entitlements/:id
func (h *Handlers) DeleteEntitlement(c *gin.Context) {
	if err := h.expenses.DeleteEntitlement(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// GetEntitlement handles GET /api/v1/entitlements/:id
func (h *Handlers) GetEntitlement(c *gin.Context) {
	ent, err := h.expenses.GetEntitlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toEntitlementResponse(ent)})
}

// ListEntitlements handles GET /api/v1/entitlements?employee_id=&expense_type=
func (h *Handlers) ListEntitlements(c *gin.Context) {
	var query struct {
		EmployeeID  string `form:"employee_id" binding:"required"`
		ExpenseType string `form:"expense_type" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "invalid query parameters: "+err.Error())
		return
	}

	ents, err := h.expenses.ListEntitlements(c.Request.Context(), query.EmployeeID, query.ExpenseType)
	if err != nil {
		h.respondError(c, err)
		return
	}

	responses := make([]EntitlementResponse, 0, len(ents))
	for _, ent := range ents {
		responses = append(responses, toEntitlementResponse(ent))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: responses})
}

func (h *Handlers) bindClaimRequest(c *gin.Context, requireIdentity bool) (service.ClaimRequest, bool) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return service.ClaimRequest{}, false
	}
	if requireIdentity && (req.EmployeeID == "" || req.ExpenseType == "") {
		badRequest(c, "employee_id and expense_type are required")
		return service.ClaimRequest{}, false
	}

	receipts, err := decimal.NewFromString(req.ReceiptsAmount)
	if err != nil {
		badRequest(c, "invalid receipts_amount")
		return service.ClaimRequest{}, false
	}
	paidDate, err := time.Parse(dateLayout, req.PaidDate)
	if err != nil {
		badRequest(c, "invalid paid_date, expected YYYY-MM-DD")
		return service.ClaimRequest{}, false
	}

	return service.ClaimRequest{
		EmployeeID:       req.EmployeeID,
		ExpenseType:      req.ExpenseType,
		PaidDate:         paidDate,
		ReceiptsAmount:   receipts,
		OverrideApproved: req.OverrideApproved,
		ApproverID:       req.ApproverID,
	}, true
}

func (h *Handlers) bindEntitlementRequest(c *gin.Context) (service.EntitlementRequest, bool) {
	var req EntitlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return service.EntitlementRequest{}, false
	}

	out := service.EntitlementRequest{
		EmployeeID:  req.EmployeeID,
		ExpenseType: req.ExpenseType,
		Unit:        models.Unit(req.Unit),
		Rollover:    req.Rollover,
	}

	if req.Amount != nil {
		amount, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			badRequest(c, "invalid amount")
			return service.EntitlementRequest{}, false
		}
		out.Amount = &amount
	}

	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		badRequest(c, "invalid start_date, expected YYYY-MM-DD")
		return service.EntitlementRequest{}, false
	}
	out.StartDate = startDate

	if req.EndDate != nil {
		endDate, err := time.Parse(dateLayout, *req.EndDate)
		if err != nil {
			badRequest(c, "invalid end_date, expected YYYY-MM-DD")
			return service.EntitlementRequest{}, false
		}
		out.EndDate = &endDate
	}

	return out, true
}

// respondError maps engine and repository errors to HTTP statuses. Rejected
// commits keep their numeric claimable amount in the payload.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var rejected *engine.RejectedError
	switch {
	case errors.As(err, &rejected):
		c.JSON(http.StatusUnprocessableEntity, Response{
			Success: false,
			Error:   rejected.Error(),
			Data: gin.H{
				"reason":           string(rejected.Reason),
				"claimable_amount": rejected.Claimable.StringFixed(2),
			},
		})
	case errors.Is(err, engine.ErrApproverRequired), errors.Is(err, engine.ErrOverrideNotPermitted):
		c.JSON(http.StatusForbidden, Response{Success: false, Error: err.Error()})
	case errors.Is(err, engine.ErrConcurrencyConflict), errors.Is(err, repository.ErrEntitlementOverlap):
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
	case errors.Is(err, repository.ErrEntitlementNotFound), errors.Is(err, repository.ErrClaimNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error("Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

func toClaimResponse(claim *models.Claim) ClaimResponse {
	resp := ClaimResponse{
		ID:               claim.ID,
		EmployeeID:       claim.EmployeeID,
		ExpenseType:      claim.ExpenseType,
		PaidDate:         claim.PaidDate.Format(dateLayout),
		ReceiptsAmount:   claim.ReceiptsAmount.StringFixed(2),
		ClaimsAmount:     claim.ClaimsAmount.StringFixed(2),
		AllowedAmount:    claim.AllowedAmount.StringFixed(2),
		OverrideApproved: claim.OverrideApproved,
		ApproverID:       claim.ApproverID,
		CreatedAt:        claim.CreatedAt.Format(time.RFC3339),
	}
	if claim.ApprovedAt != nil {
		approvedAt := claim.ApprovedAt.Format(time.RFC3339)
		resp.ApprovedAt = &approvedAt
	}
	return resp
}

func toEntitlementResponse(ent *models.Entitlement) EntitlementResponse {
	resp := EntitlementResponse{
		ID:          ent.ID,
		EmployeeID:  ent.EmployeeID,
		ExpenseType: ent.ExpenseType,
		Unit:        string(ent.Unit),
		Rollover:    ent.Rollover,
		StartDate:   ent.StartDate.Format(dateLayout),
		CreatedAt:   ent.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   ent.UpdatedAt.Format(time.RFC3339),
	}
	if ent.Amount != nil {
		amount := ent.Amount.StringFixed(2)
		resp.Amount = &amount
	}
	if ent.EndDate != nil {
		endDate := ent.EndDate.Format(dateLayout)
		resp.EndDate = &endDate
	}
	return resp
}

// parseOptionalDate parses a YYYY-MM-DD date, allowing empty to mean "today".
// Writes a 400 response and returns ok=false on malformed input.
func parseOptionalDate(c *gin.Context, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		badRequest(c, "invalid paid_date, expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}
