// Package api exposes the prediction engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prediction-engine/internal/app"
	"github.com/resistance-prediction-engine/internal/domain"
	"github.com/resistance-prediction-engine/internal/middleware"
	"github.com/resistance-prediction-engine/internal/service"
)

// Server represents the HTTP server
type Server struct {
	container *app.Container
	cfg       domain.ServerConfig
	router    *gin.Engine
	server    *http.Server
	stream    *EventStream
	logger    *logrus.Logger
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// DetectorInfo describes one registered detector.
type DetectorInfo struct {
	Name       string            `json:"name"`
	SignalType domain.SignalType `json:"signal_type"`
}

// NewServer creates a new HTTP server instance
func NewServer(container *app.Container) *Server {
	cfg := container.Config()
	logger := container.Logger()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())

	s := &Server{
		container: container,
		cfg:       cfg.Server,
		router:    router,
		logger:    logger,
	}
	if cfg.Server.EnableEvents {
		s.stream = NewEventStream(container.Dispatcher(), logger)
	}

	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if s.stream != nil {
		s.stream.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/predict", middleware.RequestTimeout(s.cfg.RequestTimeout), s.handlePredict)
		v1.GET("/detectors", s.handleDetectors)
		v1.GET("/predictions/:id", s.handleGetPrediction)
		v1.GET("/patients/:patient_id/predictions", s.handleListPatientPredictions)
		if s.stream != nil {
			v1.GET("/events", s.stream.Serve)
		}
	}
}

// overallHealth is degraded when any required component is not "ok".
func overallHealth(components map[string]string) (string, int) {
	for name, state := range components {
		if !optionalComponents[name] && state != "ok" {
			return "degraded", http.StatusServiceUnavailable
		}
	}
	return "healthy", http.StatusOK
}

// optionalComponents report state in /health without degrading it; the engine runs without them.
var optionalComponents = map[string]bool{
	"playbook":       true,
	"redis":          true,
	"baseline_cache": true,
}

func (s *Server) handleHealth(c *gin.Context) {
	components := s.container.Health(c.Request.Context())
	status, code := overallHealth(components)

	c.JSON(code, gin.H{
		"status":        status,
		"timestamp":     time.Now().UTC(),
		"model_version": s.container.Service().ModelVersion(),
		"components":    components,
	})
}

func (s *Server) handlePredict(c *gin.Context) {
	var req service.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		s.abort(c, http.StatusBadRequest, err)
		return
	}

	prediction, err := s.container.Service().Predict(c.Request.Context(), &req)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.abort(c, http.StatusGatewayTimeout, err)
		return
	case errors.Is(err, context.Canceled):
		s.abort(c, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		s.abort(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, prediction)
}

func (s *Server) handleDetectors(c *gin.Context) {
	detectors := s.container.Service().Detectors()
	out := make([]DetectorInfo, 0, len(detectors))
	for _, d := range detectors {
		out = append(out, DetectorInfo{Name: d.Name(), SignalType: d.SignalType()})
	}
	c.JSON(http.StatusOK, gin.H{"detectors": out, "model_version": s.container.Service().ModelVersion()})
}

func (s *Server) handleGetPrediction(c *gin.Context) {
	store := s.container.AuditStore()
	if store == nil {
		s.abort(c, http.StatusServiceUnavailable, errors.New("audit log is disabled"))
		return
	}

	record, err := store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrNotFound) {
		s.abort(c, http.StatusNotFound, fmt.Errorf("prediction %s not found", c.Param("id")))
		return
	}
	if err != nil {
		s.abort(c, http.StatusInternalServerError, err)
		return
	}

	prediction, err := record.Prediction()
	if err != nil {
		s.abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"patient_id":  record.PatientID,
		"recorded_at": record.CreatedAt,
		"prediction":  prediction,
	})
}

func (s *Server) handleListPatientPredictions(c *gin.Context) {
	store := s.container.AuditStore()
	if store == nil {
		s.abort(c, http.StatusServiceUnavailable, errors.New("audit log is disabled"))
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.abort(c, http.StatusBadRequest, domain.NewValidationError("limit", "limit must be a non-negative integer", v))
			return
		}
		limit = n
	}

	records, err := store.ListByPatient(c.Request.Context(), c.Param("patient_id"), limit)
	if err != nil {
		s.abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient_id": c.Param("patient_id"), "records": records})
}

func (s *Server) abort(c *gin.Context, code int, err error) {
	resp := ErrorResponse{
		Error:         err.Error(),
		CorrelationID: c.GetString(middleware.CorrelationIDKey),
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if code >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("correlation_id", resp.CorrelationID).Error("Request failed")
	}
	c.AbortWithStatusJSON(code, resp)
}
