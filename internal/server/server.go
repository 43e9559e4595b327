// Package server exposes the subscriber API: a websocket stream per event
// plus health and metrics endpoints. Each stream connection gets its own
// session worker; nothing is shared between subscribers.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/kalshi-ladder-feed/internal/alerting"
	"github.com/kalshi-ladder-feed/internal/config"
	"github.com/kalshi-ladder-feed/internal/feed"
	"github.com/kalshi-ladder-feed/internal/metrics"
	"github.com/kalshi-ladder-feed/internal/resolver"
	"github.com/kalshi-ladder-feed/internal/session"
	"github.com/kalshi-ladder-feed/internal/signals"
)

const writeTimeout = 10 * time.Second

type Server struct {
	cfg      *config.Config
	resolver *resolver.Client
	signer   *feed.Signer
	alerts   *alerting.Manager
	log      zerolog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

func New(cfg *config.Config, res *resolver.Client, signer *feed.Signer, alerts *alerting.Manager, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		resolver: res,
		signer:   signer,
		alerts:   alerts,
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stream/{eventTicker}", s.streamEvent).Methods("GET")
	api.HandleFunc("/health", s.getHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           3600,
	})

	s.server = &http.Server{
		Addr:    s.cfg.Server.BindAddress,
		Handler: c.Handler(router),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.cfg.Server.BindAddress).Msg("server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// streamEvent upgrades the connection and runs one session until either
// side goes away. A failed write cancels the session.
func (s *Server) streamEvent(w http.ResponseWriter, r *http.Request) {
	eventTicker := mux.Vars(r)["eventTicker"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The subscriber sends nothing meaningful; reads only detect close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	emit := func(rec session.Record) error {
		metrics.RecordsEmitted.WithLabelValues(string(rec.Type)).Inc()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(rec)
	}

	sess := session.New(s.cfg, session.Deps{
		Resolver: s.resolver,
		Signer:   s.signer,
		Log:      s.log,
		OnSignal: s.onSignal,
	})

	if err := sess.Run(ctx, eventTicker, emit); err != nil {
		s.log.Debug().Err(err).Str("event", eventTicker).Msg("session ended")
	}
}

func (s *Server) onSignal(sig signals.Signal) {
	if s.alerts != nil {
		s.alerts.Notify(sig)
	}
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"ts":     time.Now().UnixMilli(),
	})
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
