package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bryanchriswhite/minicam/internal/capture"
	"github.com/bryanchriswhite/minicam/internal/config"
	"github.com/bryanchriswhite/minicam/internal/logger"
	"github.com/bryanchriswhite/minicam/internal/stream"
	"github.com/bryanchriswhite/minicam/internal/transport"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// statsInterval is how often the stats websocket pushes an update
const statsInterval = time.Second

// FrameSource is the camera side of the server
type FrameSource interface {
	stream.FrameSource
	Next() (*capture.Buffer, error)
	Stats() capture.AdapterStats
	Sensor() capture.Sensor
}

// Stats is the body of /api/stats
type Stats struct {
	Sensor   string               `json:"sensor"`
	Camera   capture.AdapterStats `json:"camera"`
	Sessions []stream.SessionInfo `json:"sessions"`
	Uptime   string               `json:"uptime"`
}

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	source     FrameSource
	registry   *stream.Registry
	configMgr  *config.Manager
	pumpOpts   transport.Options
	upgrader   websocket.Upgrader
	started    time.Time
}

// NewServer creates a new API server
func NewServer(source FrameSource, registry *stream.Registry, configMgr *config.Manager, pumpOpts transport.Options) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		source:    source,
		registry:  registry,
		configMgr: configMgr,
		pumpOpts:  pumpOpts,
		started:   time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The stream itself is served to any origin
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/stream", s.handleStream).Methods("GET")
	s.router.HandleFunc("/capture", s.handleCapture).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/stats/ws", s.handleStatsSocket)
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start listens on port and serves until Shutdown
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes all stream sessions
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

// handleStream serves the endless multipart stream to one client. The
// session is closed when the client goes away, releasing any frame it was
// still sending.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	session, err := s.registry.Open(r.RemoteAddr)
	if err != nil {
		if errors.Is(err, stream.ErrTooManySessions) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer s.registry.Close(session.ID())

	w.Header().Set("Content-Type", stream.ContentType(session.Boundary()))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	written, err := transport.Pump(r.Context(), w, session, s.pumpOpts)
	log.Debug().
		Err(err).
		Str("session", session.ID()).
		Int64("bytes", written).
		Msg("Stream ended")
}

// handleCapture serves a single JPEG
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	buf, err := s.source.Next()
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Snapshot failed")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer buf.Release()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Content-Disposition", "inline; filename=capture.jpg")
	w.Write(buf.Bytes())
}

func (s *Server) stats() Stats {
	return Stats{
		Sensor:   s.source.Sensor().Name(),
		Camera:   s.source.Stats(),
		Sessions: s.registry.Snapshot(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats())
}

// handleStatsSocket pushes stats until the client disconnects
func (s *Server) handleStatsSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Reads only serve to notice the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.stats()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.configMgr.Get().Redacted())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>minicam</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
        }
        img {
            max-width: 100vw;
            max-height: 100vh;
            object-fit: contain;
        }
        .links {
            position: fixed;
            bottom: 12px;
            left: 12px;
            font-family: system-ui, sans-serif;
            font-size: 13px;
        }
        .links a { color: #888; margin-right: 10px; text-decoration: none; }
        .links a:hover { color: #fff; }
    </style>
</head>
<body>
    <img src="/stream" alt="minicam live stream">
    <div class="links">
        <a href="/capture">Snapshot</a>
        <a href="/api/stats">Stats</a>
    </div>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
