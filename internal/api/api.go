package api

import (
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gpscal/web-ftp-server/internal/config"
	"github.com/gpscal/web-ftp-server/internal/models"
	"github.com/gpscal/web-ftp-server/internal/storage"
)

// Server exposes the file manager API over HTTP, plus a WebSocket feed of
// filesystem change events.
type Server struct {
	settings config.Settings
	store    storage.Provider
	router   *gin.Engine

	clients  map[*websocket.Conn]bool
	clientMu sync.RWMutex
	upgrader websocket.Upgrader
	events   chan models.ChangeEvent
}

// NewServer wires routes and middleware for the given store and starts the
// event broadcaster.
func NewServer(settings config.Settings, store storage.Provider) *Server {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	server := &Server{
		settings: settings,
		store:    store,
		router:   router,
		clients:  make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins, same as the HTTP API
			},
		},
		events: make(chan models.ChangeEvent, 100),
	}

	router.Use(corsMiddleware())

	apiGroup := router.Group("/api")
	apiGroup.GET("/health", server.handleHealth)
	apiGroup.GET("/files", server.handleList)
	apiGroup.POST("/files/upload", server.handleUpload)
	apiGroup.GET("/files/download", server.handleDownload)
	apiGroup.POST("/files/folder", server.handleCreateFolder)
	apiGroup.PATCH("/files/rename", server.handleRename)
	apiGroup.DELETE("/files", server.handleDelete)

	router.GET("/ws", server.handleWebSocket)

	server.mountStatic()

	go server.broadcastEvents()

	return server
}

// corsMiddleware opens the API to browser front-ends served from other
// origins and answers preflight requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// mountStatic serves the bundled front-end for any route the API does not
// claim, when a static directory is configured and present.
func (s *Server) mountStatic() {
	dir := s.settings.StaticDir
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Printf("Static directory %s unavailable, serving API only\n", dir)
		return
	}
	fileServer := http.FileServer(http.Dir(dir))
	s.router.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") || path == "/ws" || strings.HasPrefix(path, "/ws/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found."})
			return
		}
		fileServer.ServeHTTP(c.Writer, c.Request)
	})
}

// Start serves HTTP on the configured address until the listener fails.
func (s *Server) Start() error {
	log.Printf("API server starting on %s\n", s.settings.ListenAddr)
	return s.router.Run(s.settings.ListenAddr)
}

// Handler returns the HTTP handler behind the server, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"files_root": s.store.Root(),
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v\n", err)
		return
	}
	defer conn.Close()

	s.clientMu.Lock()
	s.clients[conn] = true
	total := len(s.clients)
	s.clientMu.Unlock()
	log.Printf("Client connected via WebSocket. Total clients: %d\n", total)

	// Drain client frames until the connection drops.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.clientMu.Lock()
	delete(s.clients, conn)
	total = len(s.clients)
	s.clientMu.Unlock()
	log.Printf("Client disconnected. Total clients: %d\n", total)
}

// Feed forwards change events from ch to connected clients until ch closes.
func (s *Server) Feed(ch <-chan models.ChangeEvent) {
	go func() {
		for event := range ch {
			s.NotifyEvent(event)
		}
	}()
}

// NotifyEvent queues a change event for broadcast, dropping it when the
// queue is full.
func (s *Server) NotifyEvent(event models.ChangeEvent) {
	select {
	case s.events <- event:
	default:
		log.Println("Event channel full, dropping event")
	}
}

// broadcastEvents fans queued change events out to every connected client.
// Writes happen outside the read lock so a failed client can be removed
// without holding up the others.
func (s *Server) broadcastEvents() {
	for event := range s.events {
		s.clientMu.RLock()
		conns := make([]*websocket.Conn, 0, len(s.clients))
		for client := range s.clients {
			conns = append(conns, client)
		}
		s.clientMu.RUnlock()

		for _, client := range conns {
			if err := client.WriteJSON(event); err != nil {
				log.Printf("Error sending event to client: %v\n", err)
				client.Close()
				s.clientMu.Lock()
				delete(s.clients, client)
				s.clientMu.Unlock()
			}
		}
	}
}
