package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cepro/metersim/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	wsEndpoint = "/ws"

	shutdownTimeout = 5 * time.Second
)

// SessionFactory creates the session that feeds a newly connected subscriber through the given channel.
type SessionFactory func(subscriberID string, channel session.Channel) *session.Session

type Config struct {
	AllowedOrigins []string // "*" allows any origin
	SendBuffer     int      // number of outbound messages queued per subscriber before messages are dropped
	InboundRate    float64  // inbound messages allowed per second per subscriber
	InboundBurst   int
}

var DefaultConfig = Config{
	AllowedOrigins: []string{"*"},
	SendBuffer:     32,
	InboundRate:    5,
	InboundBurst:   10,
}

// Server serves the real-time reading feed over websockets and the stored readings over a JSON API.
type Server struct {
	config     Config
	store      Store
	newSession SessionFactory
	router     *httprouter.Router
	upgrader   websocket.Upgrader
	hub        *Hub
	sessionCtx context.Context // bounds the life of every session, request contexts end when the handler returns
	logger     *slog.Logger
}

func New(store Store, newSession SessionFactory, config Config) *Server {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConfig.SendBuffer
	}
	if config.InboundRate <= 0 {
		config.InboundRate = DefaultConfig.InboundRate
	}
	if config.InboundBurst <= 0 {
		config.InboundBurst = DefaultConfig.InboundBurst
	}

	s := &Server{
		config:     config,
		store:      store,
		newSession: newSession,
		router:     httprouter.New(),
		hub:        NewHub(),
		sessionCtx: context.Background(),
		logger:     slog.Default().With("component", "server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(config.AllowedOrigins),
	}
	s.register()

	return s
}

func (s *Server) register() {
	s.router.GET(wsEndpoint, s.handleWsRequest)

	s.router.GET("/api/readings", s.getReadings)
	s.router.POST("/api/readings", s.postReading)
	s.router.GET("/api/readings/meter/:meter_id", s.getMeterReadings)
	s.router.GET("/api/readings/time-range", s.getReadingsBetween)
	s.router.GET("/api/readings/latest/:meter_id", s.getLatestReading)
	s.router.GET("/api/readings/stats/:meter_id", s.getStatistics)
	s.router.GET("/api/readings/chart/:meter_id", s.getChart)
	s.router.GET("/api/readings/meters", s.getMeters)
	s.router.GET("/api/meters", s.getMeters)

	s.router.GET("/health", s.getHealth)
	s.router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
}

// Handler returns the HTTP handler of all the routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the distribution channel of the websocket subscribers.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run listens on `host` until the context is cancelled, then shuts down and disconnects every subscriber.
func (s *Server) Run(ctx context.Context, host string) error {
	s.sessionCtx = ctx

	httpServer := &http.Server{
		Addr:              host,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "host", host)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.hub.CloseAll()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown http: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleWsRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied with an error
		s.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	sub := newSubscriber(id, conn, s.config.SendBuffer, rate.NewLimiter(rate.Limit(s.config.InboundRate), s.config.InboundBurst))
	s.hub.add(sub)
	go sub.writeLoop()

	sess := s.newSession(id, s.hub)
	err = sess.Start(s.sessionCtx)
	if err != nil {
		s.logger.Error("Failed to start session", "subscriber_id", id, "error", err)
		sub.close()
		return
	}

	sub.logger.Info("Client connected", "remote", r.RemoteAddr)
	go sub.readLoop(sess)
}

// checkOrigin allows requests without an Origin header and those from an allowed origin.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
