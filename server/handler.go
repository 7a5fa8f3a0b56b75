package server

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp int64       `json:"timestamp"`
	Server    ServerStats `json:"server"`
	Rooms     []RoomStats `json:"rooms"`
}

// ServerStats summarizes the process for the health endpoint.
type ServerStats struct {
	Uptime float64 `json:"uptime"`
	Memory uint64  `json:"memory"`
	Rooms  int     `json:"rooms"`
}

// NewHandler builds the HTTP surface: the WebSocket endpoint, the health
// endpoint, and per-room introspection. Cross-origin access is allowed for
// the configured development origin.
func NewHandler(registry *Registry, dispatcher *Dispatcher, allowedOrigin string, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	startedAt := time.Now()

	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = []string{allowedOrigin}
	corsCfg.AllowCredentials = true
	corsCfg.AllowHeaders = []string{"Content-Type", "Origin", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsCfg))

	router.GET("/ws", func(ctx *gin.Context) {
		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", slog.Any("error", err))
			return
		}
		client := newClient(dispatcher, conn, log)
		log.Debug("session connected", slog.String("session", client.ID))
		go client.WritePump()
		go client.ReadPump()
	})

	router.GET("/health", func(ctx *gin.Context) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		ctx.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: nowMillis(),
			Server: ServerStats{
				Uptime: time.Since(startedAt).Seconds(),
				Memory: mem.HeapAlloc,
				Rooms:  registry.Count(),
			},
			Rooms: registry.Stats(),
		})
	})

	router.GET("/room/:id", func(ctx *gin.Context) {
		room, err := registry.Lookup(ctx.Param("id"))
		if err != nil {
			ctx.JSON(http.StatusNotFound, gin.H{"error": ErrRoomNotFound.Error()})
			return
		}
		ctx.JSON(http.StatusOK, room.Detail())
	})

	return router
}
