package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/ledger"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/reconcile"
	"github.com/yugo-dao/yugo-sync/pkg/response"
	"github.com/yugo-dao/yugo-sync/pkg/saga"
)

// errorResponse maps an engine error to a response code
func errorResponse(err error) *response.Response {
	var dup *reconcile.DuplicateIntentError
	switch {
	case errors.As(err, &dup):
		return response.DuplicateIntent(dup.ExistingID)
	case errors.Is(err, reconcile.ErrInvalidIntent):
		return response.Error(response.ErrCodeValidationFailed, err.Error())
	case errors.Is(err, reconcile.ErrActionNotFound), errors.Is(err, saga.ErrIntentNotFound):
		return response.NotFound(err.Error())
	case errors.Is(err, reconcile.ErrEngineClosed):
		return response.ServiceUnavailable("Reconciler is shutting down")
	case errors.Is(err, reconcile.ErrStoreWriteFailed):
		return response.Error(response.ErrCodeProjectionLag, err.Error())
	case errors.Is(err, ledger.ErrRejected):
		return response.Error(response.ErrCodeLedgerRejected, err.Error())
	case errors.Is(err, ledger.ErrReverted):
		return response.Error(response.ErrCodeLedgerReverted, err.Error())
	case errors.Is(err, ledger.ErrTimeout):
		return response.Error(response.ErrCodeLedgerTimeout, err.Error())
	}
	return response.InternalError("")
}

func writeError(c *gin.Context, err error) {
	resp := errorResponse(err)
	c.JSON(response.GetHTTPStatus(resp.Error.Code), resp)
}

// waitExpired reports whether err is the caller's own wait running out rather
// than an intent failure
func waitExpired(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err()) && !errors.Is(err, ledger.ErrTimeout)
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.ValidationFailed(map[string]string{"body": err.Error()}))
}
