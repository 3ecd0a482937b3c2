package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/eligibility"
	"github.com/yugo-dao/yugo-sync/pkg/response"
)

// ViewSource serves the latest computed view, nil until the first refresh
type ViewSource interface {
	View() *eligibility.View
}

// ViewHandler serves the caller's eligibility views
type ViewHandler struct {
	views ViewSource
}

// NewViewHandler creates a new ViewHandler
func NewViewHandler(views ViewSource) *ViewHandler {
	return &ViewHandler{views: views}
}

func (h *ViewHandler) view(c *gin.Context) (*eligibility.View, bool) {
	v := h.views.View()
	if v == nil {
		c.JSON(http.StatusServiceUnavailable, response.ViewNotReady())
		return nil, false
	}
	return v, true
}

// Organisation handles GET /views/organisation
func (h *ViewHandler) Organisation(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	if v.Organisation == nil {
		c.JSON(http.StatusNotFound, response.NotFound("Caller is not a registered organisation"))
		return
	}
	c.JSON(http.StatusOK, response.Success(v.Organisation))
}

// Contests handles GET /views/contests
func (h *ViewHandler) Contests(c *gin.Context) {
	if v, ok := h.view(c); ok {
		c.JSON(http.StatusOK, response.Success(v.Contests))
	}
}

// Actions handles GET /views/actions
func (h *ViewHandler) Actions(c *gin.Context) {
	if v, ok := h.view(c); ok {
		c.JSON(http.StatusOK, response.Success(v.Actions))
	}
}

// Members handles GET /views/members
func (h *ViewHandler) Members(c *gin.Context) {
	if v, ok := h.view(c); ok {
		c.JSON(http.StatusOK, response.Success(v.Members))
	}
}
