package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/auth"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/logger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/workflow"
)

type Handler struct {
	engine   *ledger.Engine
	workflow *workflow.Service
	logger   *zap.Logger
}

func NewHandler(engine *ledger.Engine, wf *workflow.Service, log *zap.Logger) *Handler {
	return &Handler{engine: engine, workflow: wf, logger: logger.OrNop(log)}
}

// RegisterRoutes mounts the authenticated API on r. Every route needs a
// bearer token; /admin routes need the admin role.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, verifier *auth.JWTVerifier) {
	r.Use(auth.Middleware(verifier))

	accounts := r.Group("/accounts")
	{
		accounts.POST("", h.CreateAccount)
		accounts.GET("/me", h.GetMyAccount)
		accounts.GET("/:id", h.GetAccount)
		accounts.GET("/:id/entries", h.GetEntries)
		accounts.POST("/:id/charge", h.Charge)
	}

	r.POST("/payments", h.Pay)
	r.POST("/refunds", h.Refund)
	r.POST("/transactions/:id/refund", h.RefundTransaction)

	projects := r.Group("/projects")
	{
		projects.POST("", h.CreateProject)
		projects.GET("/:id", h.GetProject)
		projects.POST("/:id/rewards", h.CreateReward)
	}

	admin := r.Group("/admin", auth.RequireAdmin())
	{
		admin.PATCH("/projects/:id", h.UpdateProject)
		admin.GET("/consistency", h.CheckConsistency)
		admin.GET("/ledger", h.GetLedger)
	}
}

func actorOf(c *gin.Context) models.Actor {
	actor, _ := auth.ActorFromContext(c.Request.Context())
	return actor
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a number", ledger.ErrInvalidAmount, field, raw)
	}
	return d, nil
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

// POST /api/v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountReq
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	actor := actorOf(c)
	owner := actor.ID
	if req.OwnerID != "" && req.OwnerID != actor.ID {
		if !actor.IsAdmin() {
			h.writeError(c, fmt.Errorf("%w: only admins open accounts for others", ledger.ErrForbidden))
			return
		}
		owner = req.OwnerID
	}

	account, err := h.engine.CreateAccount(c.Request.Context(), owner)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// GET /api/v1/accounts/me
func (h *Handler) GetMyAccount(c *gin.Context) {
	account, err := h.engine.GetAccountByOwner(c.Request.Context(), actorOf(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// loadOwnedAccount returns the account in the path if the actor owns it or
// is an admin.
func (h *Handler) loadOwnedAccount(c *gin.Context) (models.Account, bool) {
	account, err := h.engine.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return models.Account{}, false
	}
	actor := actorOf(c)
	if !actor.IsAdmin() && actor.ID != account.OwnerID {
		h.writeError(c, fmt.Errorf("%w: account %s", ledger.ErrForbidden, account.ID))
		return models.Account{}, false
	}
	return account, true
}

// GET /api/v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	account, ok := h.loadOwnedAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, account)
}

// GET /api/v1/accounts/:id/entries
func (h *Handler) GetEntries(c *gin.Context) {
	account, ok := h.loadOwnedAccount(c)
	if !ok {
		return
	}
	entries, err := h.engine.GetEntriesByAccount(c.Request.Context(), account.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": account.ID, "entries": entries})
}

const idempotencyHeader = "Idempotency-Key"

// createdOrReplayed answers a repeated idempotency key with 200 instead of 201.
func createdOrReplayed(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

// POST /api/v1/accounts/:id/charge
func (h *Handler) Charge(c *gin.Context) {
	var req ChargeReq
	if !h.bind(c, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	receipt, err := h.engine.Charge(c.Request.Context(), ledger.ChargeRequest{
		AccountID:      c.Param("id"),
		Amount:         amount,
		Actor:          actorOf(c),
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(createdOrReplayed(receipt.Replayed), receipt)
}

// POST /api/v1/payments
func (h *Handler) Pay(c *gin.Context) {
	var req PaymentReq
	if !h.bind(c, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	receipt, err := h.engine.Pay(c.Request.Context(), ledger.PayRequest{
		PayerAccountID: req.AccountID,
		ProjectID:      req.ProjectID,
		Amount:         amount,
		Actor:          actorOf(c),
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(createdOrReplayed(receipt.Replayed), receipt)
}

// POST /api/v1/refunds
func (h *Handler) Refund(c *gin.Context) {
	var req RefundReq
	if !h.bind(c, &req) {
		return
	}
	receipt, err := h.engine.Refund(c.Request.Context(), ledger.RefundRequest{
		FundingID: req.FundingID,
		Actor:     actorOf(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// POST /api/v1/transactions/:id/refund
func (h *Handler) RefundTransaction(c *gin.Context) {
	receipt, err := h.engine.RefundByTransaction(c.Request.Context(), c.Param("id"), actorOf(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// POST /api/v1/projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectReq
	if !h.bind(c, &req) {
		return
	}
	goal, err := parseAmount("funding_goal", req.FundingGoal)
	if err != nil {
		h.writeError(c, err)
		return
	}
	project, err := h.workflow.CreateProject(c.Request.Context(), actorOf(c), req.Title, goal)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// GET /api/v1/projects/:id
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.engine.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// POST /api/v1/projects/:id/rewards
func (h *Handler) CreateReward(c *gin.Context) {
	var req CreateRewardReq
	if !h.bind(c, &req) {
		return
	}
	threshold, err := parseAmount("threshold", req.Threshold)
	if err != nil {
		h.writeError(c, err)
		return
	}
	reward, err := h.workflow.CreateReward(c.Request.Context(), actorOf(c), c.Param("id"), threshold, req.Description)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reward)
}

// PATCH /api/v1/admin/projects/:id
// A cascade with failed refunds answers 207 with the per record failures.
func (h *Handler) UpdateProject(c *gin.Context) {
	var req UpdateProjectReq
	if !h.bind(c, &req) {
		return
	}
	result, err := h.workflow.UpdateProject(c.Request.Context(), actorOf(c), c.Param("id"), workflow.Update{
		Approval: req.Approval,
		Status:   req.Status,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	code := http.StatusOK
	if result.PartiallyFailed() {
		code = http.StatusMultiStatus
	}
	c.JSON(code, result)
}

// GET /api/v1/admin/consistency
func (h *Handler) CheckConsistency(c *gin.Context) {
	report, err := h.engine.CheckConsistency(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consistent": report.Consistent(), "report": report})
}

// GET /api/v1/admin/ledger
func (h *Handler) GetLedger(c *gin.Context) {
	entries, err := h.engine.GetLedgerEntries(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
