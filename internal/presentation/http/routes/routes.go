// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/livedesk-go/internal/application/container"
	"github.com/AtRiskMedia/livedesk-go/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/livedesk-go/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
// jwtSecret signs agent tokens and may differ from the configured one when
// the server generated an ephemeral secret.
func SetupRoutes(c *container.Container, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(c.Logger))
	r.Use(middleware.CORSMiddleware(c.Config.Server.CORSOrigins))

	// Initialize handlers
	visitorHandlers := handlers.NewVisitorHandlers(c.SessionService, c.RoomService, c.MessageService, c.TypingService, c.Events, c.Logger)
	roomHandlers := handlers.NewRoomHandlers(c.RoomService, c.MessageService, c.TypingService, c.HistoryService, c.AnalyticsService, c.Events, c.Logger)
	agentHandlers := handlers.NewAgentHandlers(c.AgentService, c.SessionService, c.AnalyticsService, c.DepartmentService, c.Logger)
	opsHandlers := handlers.NewOpsHandlers(c, c.Runtime, c.Logger)

	r.GET("/health", opsHandlers.Health)

	api := r.Group("/api/v1")
	api.POST("/sessions", visitorHandlers.StartSession)

	// Visitor endpoints, authenticated by session token
	visitorAPI := api.Group("/visitor")
	visitorAPI.Use(middleware.VisitorSessionMiddleware(c.SessionService, c.Logger))
	{
		visitorAPI.GET("/session", visitorHandlers.GetSession)
		visitorAPI.POST("/session/touch", visitorHandlers.Touch)
		visitorAPI.POST("/session/end", visitorHandlers.EndSession)
		visitorAPI.POST("/pageviews", visitorHandlers.RecordPageView)
		visitorAPI.POST("/events", visitorHandlers.RecordWidgetEvent)

		visitorAPI.POST("/rooms", visitorHandlers.OpenRoom)
		visitorAPI.GET("/rooms", visitorHandlers.ListRooms)
		visitorAPI.GET("/rooms/:id", visitorHandlers.GetRoom)
		visitorAPI.GET("/rooms/:id/events", visitorHandlers.Stream)
		visitorAPI.GET("/rooms/:id/ws", visitorHandlers.Socket)
		visitorAPI.POST("/rooms/:id/leave", visitorHandlers.LeaveRoom)
		visitorAPI.GET("/rooms/:id/messages", visitorHandlers.ListMessages)
		visitorAPI.POST("/rooms/:id/messages", visitorHandlers.PostMessage)
		visitorAPI.GET("/rooms/:id/typing", visitorHandlers.GetTyping)
		visitorAPI.POST("/rooms/:id/typing", visitorHandlers.SetTyping)
	}

	// Agent endpoints, authenticated by bearer token
	agentAPI := api.Group("/agent")
	agentAPI.Use(middleware.AgentAuthMiddleware(jwtSecret, c.Logger))
	{
		agentAPI.GET("/status", agentHandlers.GetStatus)
		agentAPI.PUT("/presence", agentHandlers.SetPresence)
		agentAPI.PUT("/capacity", agentHandlers.SetCapacity)
		agentAPI.GET("/departments", agentHandlers.ListDepartments)

		agentAPI.GET("/sessions/:id", agentHandlers.GetSession)
		agentAPI.GET("/sessions/:id/interactions", agentHandlers.GetInteractions)
		agentAPI.GET("/sessions/:id/engagement", agentHandlers.GetEngagement)
		agentAPI.GET("/sessions/:id/security-events", agentHandlers.ListSecurityEvents)
		agentAPI.POST("/sessions/:id/security-events", agentHandlers.RecordSecurityEvent)

		rooms := agentAPI.Group("/rooms/:id")
		rooms.GET("", roomHandlers.GetRoom)
		rooms.GET("/events", roomHandlers.Stream)
		rooms.GET("/ws", roomHandlers.Socket)
		rooms.POST("/join", roomHandlers.JoinRoom)
		rooms.POST("/leave", roomHandlers.LeaveRoom)
		rooms.POST("/end", roomHandlers.EndRoom)
		rooms.GET("/messages", roomHandlers.ListMessages)
		rooms.POST("/messages", roomHandlers.PostMessage)
		rooms.GET("/typing", roomHandlers.GetTyping)
		rooms.POST("/typing", roomHandlers.SetTyping)
		rooms.GET("/history", roomHandlers.GetHistory)
		rooms.GET("/analytics", roomHandlers.GetAnalytics)

		rooms.GET("/transfer", roomHandlers.GetTransfer)
		rooms.POST("/transfer", roomHandlers.RequestTransfer)
		rooms.POST("/transfer/accept", roomHandlers.AcceptTransfer)
		rooms.POST("/transfer/reject", roomHandlers.RejectTransfer)
		rooms.POST("/invitations", roomHandlers.InviteAgent)
		rooms.POST("/invitations/accept", roomHandlers.AcceptInvitation)
		rooms.POST("/invitations/reject", roomHandlers.RejectInvitation)

		rooms.POST("/departments/:dept/transfer", roomHandlers.TransferDepartment)
		rooms.POST("/departments/:dept/invite", roomHandlers.InviteDepartment)
		rooms.POST("/departments/:dept/accept", roomHandlers.AcceptDepartmentInvitation)
		rooms.POST("/departments/:dept/reject", roomHandlers.RejectDepartmentInvitation)
	}

	// Admin endpoints
	adminAPI := api.Group("/admin")
	adminAPI.Use(middleware.AgentAuthMiddleware(jwtSecret, c.Logger), middleware.AdminOnlyMiddleware(c.Logger))
	{
		adminAPI.POST("/departments", agentHandlers.SaveDepartment)
		adminAPI.PUT("/departments/:dept", agentHandlers.SaveDepartment)

		adminAPI.GET("/jobs/failed", opsHandlers.ListFailedJobs)
		adminAPI.POST("/jobs/failed/:id/replay", opsHandlers.ReplayJob)

		adminAPI.GET("/logs/recent", opsHandlers.RecentLogs)
		adminAPI.GET("/logs/levels", opsHandlers.GetLogLevels)
		adminAPI.PUT("/logs/levels", opsHandlers.SetLogLevel)
	}

	return r
}
