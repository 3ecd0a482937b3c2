package handler

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts every handler. submitMiddleware guards the intent
// submission routes only.
func RegisterRoutes(r *gin.Engine, health *HealthHandler, intents *IntentHandler, views *ViewHandler, submitMiddleware ...gin.HandlerFunc) {
	r.GET("/health", health.Health)

	v1 := r.Group("/api/v1")
	{
		submit := v1.Group("/intents", submitMiddleware...)
		submit.POST("/organisations", intents.RegisterOrganisation)
		submit.POST("/contests", intents.CreateContest)
		submit.POST("/actions", intents.CreateAction)
		submit.POST("/members", intents.WhitelistMember)
		submit.POST("/votes", intents.VoteAction)

		v1.GET("/intents", intents.List)
		v1.GET("/intents/:id", intents.Get)

		view := v1.Group("/views")
		view.GET("/organisation", views.Organisation)
		view.GET("/contests", views.Contests)
		view.GET("/actions", views.Actions)
		view.GET("/members", views.Members)
	}
}
