package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/supportline/internal/auth"
	"github.com/vovakirdan/supportline/internal/config"
	"github.com/vovakirdan/supportline/internal/core"
	"github.com/vovakirdan/supportline/internal/proto"
)

// Hub is what the transport needs from core.Hub.
type Hub interface {
	RegisterClient(c *core.Client)
	UnregisterClient(c *core.Client)
	CreateRoom(ctx context.Context, student proto.Sender, topic string, urgency proto.Urgency) (proto.Room, error)
	Transition(ctx context.Context, who proto.Sender, roomID string, status proto.RoomStatus) (proto.Room, error)
	History(ctx context.Context, who proto.Sender, roomID string) ([]proto.Message, error)
	Rooms(ctx context.Context, who proto.Sender) ([]proto.Room, error)
	QueueSnapshot(ctx context.Context, who proto.Sender) ([]proto.QueueEntry, error)
	Metrics(ctx context.Context, who proto.Sender) (proto.MetricsSnapshot, error)
}

// NewServer builds the HTTP server: REST API, websocket endpoint, health and metrics.
func NewServer(hub Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware())

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(hub, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	authed := api.Group("", AuthMiddleware(authService, logger))
	authed.GET("/me", apiHandlers.Me)
	authed.GET("/rooms", roomHandlers.ListRooms)
	authed.POST("/rooms", roomHandlers.CreateRoom)
	authed.GET("/rooms/:id/messages", roomHandlers.History)
	authed.POST("/rooms/:id/resolve", roomHandlers.Resolve)
	authed.POST("/rooms/:id/close", roomHandlers.Close)
	authed.GET("/queue", roomHandlers.Queue)
	authed.GET("/admin/metrics", roomHandlers.Metrics)

	// the websocket upgrade hijacks the connection, which gin's writer refuses
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, authService, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
