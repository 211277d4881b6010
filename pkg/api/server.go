// Package api provides the HTTP control and monitoring endpoints of a
// running fspropfaker session.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/fspropfaker/fspropfaker/internal/capacity"
	"github.com/fspropfaker/fspropfaker/internal/metrics"
	"github.com/fspropfaker/fspropfaker/internal/probe"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
	"github.com/fspropfaker/fspropfaker/pkg/health"
	"github.com/fspropfaker/fspropfaker/pkg/session"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

// Controller is the part of a session the API drives. *session.Session
// implements it.
type Controller interface {
	Info() session.Info
	Statfs(ctx context.Context) (probe.Snapshot, error)
	Rules() (disk, free capacity.Rule)

	SetDiskFixed(blocks int64) error
	SetDiskDelta(blocks int64)
	SetFreeFixed(blocks int64) error
	SetFreeDelta(blocks int64)

	SetDiskFixedMB(mb int64) (int64, error)
	SetDiskDeltaMB(mb int64) (int64, error)
	SetFreeFixedMB(mb int64) (int64, error)
	SetFreeDeltaMB(mb int64) (int64, error)
}

// Server provides HTTP API endpoints for control and monitoring
type Server struct {
	httpServer    *http.Server
	handler       http.Handler
	controller    Controller
	healthTracker *health.Tracker
	collector     *metrics.Collector
	logger        *utils.StructuredLogger
	config        ServerConfig

	historyMu sync.Mutex
	history   []RuleChange
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "127.0.0.1:8787")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// HistorySize bounds the rule change history kept for /capacity/history
	HistorySize int `yaml:"history_size" json:"history_size"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:8787",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   false,
		HistorySize:  100,
	}
}

// RuleChange is one accepted PUT on a capacity rule.
type RuleChange struct {
	Target    string        `json:"target"`
	Rule      capacity.Rule `json:"rule"`
	MB        *int64        `json:"mb,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ruleRequest is the body of PUT /capacity/disk and /capacity/free. Exactly
// one of Blocks and MB must be set.
type ruleRequest struct {
	Mode   *capacity.Mode `json:"mode"`
	Blocks *int64         `json:"blocks"`
	MB     *int64         `json:"mb"`
}

// NewServer creates a new API server. collector, healthTracker and logger
// may be nil.
func NewServer(config ServerConfig, controller Controller, healthTracker *health.Tracker,
	collector *metrics.Collector, logger *utils.StructuredLogger) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultServerConfig().HistorySize
	}

	s := &Server{
		controller:    controller,
		healthTracker: healthTracker,
		collector:     collector,
		logger:        logger.WithComponent("api"),
		config:        config,
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Capacity endpoints
	mux.HandleFunc("/capacity", s.handleCapacity)
	mux.HandleFunc("/capacity/disk", s.handleRule("disk"))
	mux.HandleFunc("/capacity/free", s.handleRule("free"))
	mux.HandleFunc("/capacity/history", s.handleHistory)

	if collector != nil && collector.Enabled() {
		mux.Handle("/metrics", collector.Handler())
		mux.HandleFunc("/debug/operations", collector.DebugOperationsHandler)
	}

	mux.HandleFunc("/info", s.handleInfo)

	// Apply middleware
	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", map[string]interface{}{"address": s.config.Address})
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", map[string]interface{}{"error": err})
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server", nil)
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"note":   "Health tracking not configured",
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	components := s.healthTracker.GetAllComponents()

	response := map[string]interface{}{
		"status":     overallHealth.String(),
		"timestamp":  time.Now(),
		"components": len(components),
	}

	statusCode := http.StatusOK
	switch overallHealth {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	if s.healthTracker == nil {
		s.respondMessage(w, http.StatusServiceUnavailable, "Health tracking not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, s.healthTracker.GetAllComponents())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

// handleReadiness reports ready while the session is mounted and no
// component is unavailable.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	state := s.controller.Info().State
	ready := state == session.StateReady
	response := map[string]interface{}{
		"session":   state,
		"timestamp": time.Now(),
	}

	if s.healthTracker != nil {
		overallHealth := s.healthTracker.GetOverallHealth()
		ready = ready && overallHealth != health.StateUnavailable
		response["status"] = overallHealth.String()
	}
	response["ready"] = ready

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, response)
}

// Capacity endpoint handlers

func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	fake, err := s.controller.Statfs(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	info := s.controller.Info()
	disk, free := s.controller.Rules()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"block_size": info.BlockSize,
		"real": map[string]int64{
			"total_blocks": info.RealTotalBlocks,
			"avail_blocks": info.RealAvailBlocks,
		},
		"fake":      fake,
		"disk":      disk,
		"free":      free,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleRule(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			disk, free := s.controller.Rules()
			rule := disk
			if target == "free" {
				rule = free
			}
			s.respondJSON(w, http.StatusOK, rule)
			return
		}
		if !s.allow(w, r, http.MethodPut) {
			return
		}

		var req ruleRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			s.respondError(w, errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid request body").
				WithComponent("api"))
			return
		}

		blocks, err := s.apply(target, req)
		if err != nil {
			s.respondError(w, err)
			return
		}

		change := RuleChange{
			Target:    target,
			Rule:      capacity.Rule{Mode: *req.Mode, Blocks: blocks},
			MB:        req.MB,
			Timestamp: time.Now(),
		}
		s.remember(change)
		s.logger.Info("capacity rule changed", map[string]interface{}{
			"target": target,
			"rule":   change.Rule.String(),
		})

		s.respondJSON(w, http.StatusOK, change)
	}
}

// apply validates req and hands it to the controller. It returns the block
// count of the rule now in effect.
func (s *Server) apply(target string, req ruleRequest) (int64, error) {
	if req.Mode == nil {
		return 0, errors.NewError(errors.ErrCodeValidationFailed, `"mode" is required`).WithComponent("api")
	}
	if (req.Blocks == nil) == (req.MB == nil) {
		return 0, errors.NewError(errors.ErrCodeValidationFailed,
			`exactly one of "blocks" and "mb" is required`).WithComponent("api")
	}

	fixed := *req.Mode == capacity.ModeFixed
	if req.MB != nil {
		switch {
		case target == "disk" && fixed:
			return s.controller.SetDiskFixedMB(*req.MB)
		case target == "disk":
			return s.controller.SetDiskDeltaMB(*req.MB)
		case fixed:
			return s.controller.SetFreeFixedMB(*req.MB)
		default:
			return s.controller.SetFreeDeltaMB(*req.MB)
		}
	}

	blocks := *req.Blocks
	switch {
	case target == "disk" && fixed:
		return blocks, s.controller.SetDiskFixed(blocks)
	case target == "disk":
		s.controller.SetDiskDelta(blocks)
	case fixed:
		return blocks, s.controller.SetFreeFixed(blocks)
	default:
		s.controller.SetFreeDelta(blocks)
	}
	return blocks, nil
}

func (s *Server) remember(change RuleChange) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append(s.history, change)
	if over := len(s.history) - s.config.HistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// History returns the accepted rule changes, newest last.
func (s *Server) History() []RuleChange {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return append([]RuleChange(nil), s.history...)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	history := s.History()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"history":   history,
		"count":     len(history),
		"timestamp": time.Now(),
	})
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	endpoints := []string{
		"/health",
		"/health/components",
		"/health/live",
		"/health/ready",
		"/capacity",
		"/capacity/disk",
		"/capacity/free",
		"/capacity/history",
		"/info",
	}
	if s.collector != nil && s.collector.Enabled() {
		endpoints = append(endpoints, "/metrics", "/debug/operations")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "fspropfaker API",
		"session":   s.controller.Info(),
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	s.respondMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("cannot encode response", map[string]interface{}{"error": err})
	}
}

func (s *Server) respondMessage(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}

// respondError maps err to its HTTP status and error code.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	statusCode := errors.GetDefaultHTTPStatus(code)

	var fe *errors.FakerError
	message := err.Error()
	if stderrors.As(err, &fe) {
		if fe.HTTPStatus != 0 {
			statusCode = fe.HTTPStatus
		}
		if fe.UserFacing {
			message = fe.UserFacingMessage()
		}
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"detail":    err.Error(),
		"code":      code,
		"timestamp": time.Now(),
	})
}
