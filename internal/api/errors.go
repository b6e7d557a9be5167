package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/workflow"
)

func statusFor(err error) int {
	switch {
	// integrity faults also match the error kinds below, so they go first
	case errors.Is(err, ledger.ErrIntegrity):
		return http.StatusInternalServerError
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, workflow.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrAlreadyRefunded),
		errors.Is(err, ledger.ErrProjectClosed),
		errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, ledger.ErrConflict),
		errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError reports the specific failure. Balance errors also carry the
// balance and the requested amount.
func (h *Handler) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	body := gin.H{"error": err.Error()}

	var balanceErr *ledger.BalanceError
	if errors.As(err, &balanceErr) {
		body["account_id"] = balanceErr.AccountID
		body["balance"] = balanceErr.Balance
		body["amount"] = balanceErr.Amount
	}
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(code, body)
}
