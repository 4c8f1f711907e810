// Package gateway exposes the coordinator to browser clients over WebSocket:
// countdown renders, alerts, the admin roster and order confirmations stream
// out, timer and order commands stream in.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/zaclabs/spawnsync/go/internal/models"
	"github.com/zaclabs/spawnsync/go/internal/presence"
)

// Server owns the connection manager and the HTTP surface around it.
type Server struct {
	manager *ConnectionManager
	httpSrv *http.Server
}

// NewServer builds the gateway server. addr is host:port; commands may be nil.
func NewServer(addr string, config ConnectionConfig, commands Commands) *Server {
	s := &Server{
		manager: NewConnectionManager(config, commands),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := s.manager.GetConnectionStats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"spawnsync-gateway","connections":%d}`,
			stats["total_connections"])
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(c.Handler(mux), &http2.Server{}),
	}
	return s
}

// Handler exposes the full HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run starts the broadcast loop and the HTTP listener, blocking until ctx is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.manager.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("gateway HTTP server starting")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.manager.config.WriteTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("gateway HTTP server shutdown failed")
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("gateway HTTP server: %w", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}
	if err := s.manager.UpgradeConnection(w, r, userID); err != nil {
		http.Error(w, "could not upgrade connection", http.StatusInternalServerError)
	}
}

// PublishDisplay pushes a rendered countdown line to all clients.
func (s *Server) PublishDisplay(slot, text string) {
	s.manager.Broadcast(NewEvent(EventTypeTimerDisplay, TimerDisplayPayload{Slot: slot, Text: text}))
}

// PublishRecord announces a new timer record to all clients.
func (s *Server) PublishRecord(timer string, rec models.TimerRecord, attribution string) {
	s.manager.Broadcast(NewEvent(EventTypeTimerRecord, TimerRecordPayload{
		Timer:         timer,
		TargetTime:    rec.TargetTime,
		LastUpdatedBy: rec.LastUpdatedBy,
		Attribution:   attribution,
	}))
}

// PublishAlert pushes a warning or spawn notification to all clients.
func (s *Server) PublishAlert(timer string, kind AlertKind, message string) {
	s.manager.Broadcast(NewEvent(EventTypeTimerAlert, TimerAlertPayload{Timer: timer, Kind: kind, Message: message}))
}

// PublishRoster pushes the online-admins line to all clients.
func (s *Server) PublishRoster(r presence.Roster) {
	s.manager.Broadcast(NewEvent(EventTypeRoster, RosterPayload{Admins: r.Admins, Text: r.String()}))
}

// PublishOrder announces a submitted order to all clients.
func (s *Server) PublishOrder(o models.Order) {
	s.manager.Broadcast(NewEvent(EventTypeOrder, OrderPayload{Order: o}))
}
