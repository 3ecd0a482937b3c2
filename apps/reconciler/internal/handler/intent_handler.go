package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/dto"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/reconcile"
	"github.com/yugo-dao/yugo-sync/pkg/response"
	"github.com/yugo-dao/yugo-sync/pkg/saga"
)

// IntentService is the part of the engine the HTTP layer drives
type IntentService interface {
	Submit(ctx context.Context, intent reconcile.Intent) (*reconcile.Ticket, error)
	Intent(ctx context.Context, id string) (*saga.IntentSaga, error)
	History(ctx context.Context, id string) ([]saga.StateTransition, error)
	IntentPage(ctx context.Context, state saga.IntentState, offset, limit int) ([]*saga.IntentSaga, int, error)
}

// IntentHandler handles intent submission and lookup
type IntentHandler struct {
	engine IntentService
	// maxWait bounds ?wait=true requests
	maxWait time.Duration
}

// NewIntentHandler creates a new IntentHandler
func NewIntentHandler(engine IntentService, maxWait time.Duration) *IntentHandler {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &IntentHandler{engine: engine, maxWait: maxWait}
}

// RegisterOrganisation handles POST /intents/organisations
func (h *IntentHandler) RegisterOrganisation(c *gin.Context) {
	var req dto.RegisterOrganisationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	h.submit(c, reconcile.RegisterOrganisation{
		Thematics: req.Thematics,
		Country:   req.Country,
	})
}

// CreateContest handles POST /intents/contests
func (h *IntentHandler) CreateContest(c *gin.Context) {
	var req dto.CreateContestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if valid, msg := req.Validate(); !valid {
		c.JSON(http.StatusBadRequest, response.BadRequest(msg))
		return
	}

	h.submit(c, reconcile.CreateContest{
		Name:               req.Name,
		AvailableFunds:     req.AvailableFunds,
		ApplicationEndDate: req.ApplicationEndDate,
		VotingEndDate:      req.VotingEndDate,
		Thematics:          req.Thematics,
		Countries:          req.Countries,
	})
}

// CreateAction handles POST /intents/actions
func (h *IntentHandler) CreateAction(c *gin.Context) {
	var req dto.CreateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	h.submit(c, reconcile.CreateAction{
		Name:          req.Name,
		Description:   req.Description,
		RequiredFunds: req.RequiredFunds,
		AddrGrantOrga: req.AddrGrantOrga,
	})
}

// WhitelistMember handles POST /intents/members
func (h *IntentHandler) WhitelistMember(c *gin.Context) {
	var req dto.WhitelistMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	h.submit(c, reconcile.WhitelistMember{Member: req.Member})
}

// VoteAction handles POST /intents/votes
func (h *IntentHandler) VoteAction(c *gin.Context) {
	var req dto.VoteActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	h.submit(c, reconcile.VoteAction{ActionID: req.ActionID})
}

// submit answers 202 once the transaction is on its way. With ?wait=true it
// holds the request until the intent is terminal or maxWait passes.
func (h *IntentHandler) submit(c *gin.Context, intent reconcile.Intent) {
	ctx := c.Request.Context()

	ticket, err := h.engine.Submit(ctx, intent)
	if err != nil {
		writeError(c, err)
		return
	}

	accepted := dto.SubmitIntentResponse{
		IntentID: ticket.ID,
		Kind:     string(ticket.Kind),
		TxHash:   ticket.TxHash,
		State:    string(saga.StateAwaitingSettlement),
	}
	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, response.Success(accepted))
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.maxWait)
	defer cancel()

	rec, err := ticket.Wait(waitCtx)
	if err != nil {
		if waitExpired(waitCtx, err) {
			c.JSON(http.StatusAccepted, response.Success(accepted))
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(toIntentResponse(rec, nil)))
}

// Get handles GET /intents/:id
func (h *IntentHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.BadRequest("ID is required"))
		return
	}

	rec, err := h.engine.Intent(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	history, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.InternalError("Failed to read intent history"))
		return
	}

	c.JSON(http.StatusOK, response.Success(toIntentResponse(rec, history)))
}

// List handles GET /intents. Without a state filter it lists in-flight intents.
func (h *IntentHandler) List(c *gin.Context) {
	var q dto.ListIntentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}
	q.SetDefaults()

	state := saga.IntentState(q.State)
	if state != "" && !state.IsValid() {
		c.JSON(http.StatusBadRequest, response.BadRequest("Unknown state "+q.State))
		return
	}

	intents, total, err := h.engine.IntentPage(c.Request.Context(), state, (q.Page-1)*q.Limit, q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.InternalError("Failed to list intents"))
		return
	}

	items := make([]dto.IntentResponse, 0, len(intents))
	for _, rec := range intents {
		items = append(items, toIntentResponse(rec, nil))
	}

	c.JSON(http.StatusOK, response.Paginated(items, q.Page, q.Limit, int64(total)))
}

func toIntentResponse(rec *saga.IntentSaga, history []saga.StateTransition) dto.IntentResponse {
	resp := dto.IntentResponse{
		ID:           rec.ID,
		Kind:         rec.Kind,
		Caller:       rec.Caller,
		State:        string(rec.State),
		TxHash:       rec.TxHash,
		FailureKind:  rec.FailureKind,
		ErrorMessage: rec.ErrorMessage,
		Settled:      rec.Settled,
		Payload:      rec.Payload,
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.CompletedAt != nil {
		resp.CompletedAt = rec.CompletedAt.Format(time.RFC3339)
	}
	for _, t := range history {
		resp.History = append(resp.History, dto.TransitionResponse{
			From:      string(t.FromState),
			To:        string(t.ToState),
			Reason:    t.Reason,
			Timestamp: t.Timestamp.Format(time.RFC3339Nano),
		})
	}
	return resp
}
