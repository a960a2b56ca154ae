// Package api exposes the diagnostic pipeline over HTTP: case and patient
// management, analysis, lesion tracking and comparison, settings, clinician
// feedback and the WebSocket notification endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/derm-diagnosis-server/internal/domain"
	"github.com/derm-diagnosis-server/internal/feedback"
	"github.com/derm-diagnosis-server/internal/middleware"
	"github.com/derm-diagnosis-server/internal/service"
)

// Analyzer runs the orchestrated two-provider analysis for a case.
type Analyzer interface {
	AnalyzeCase(ctx context.Context, ownerID, caseID string, req service.AnalyzeRequest) (*domain.AnalysisOutcome, error)
}

// Comparer runs lesion progression comparisons.
type Comparer interface {
	Compare(ctx context.Context, ownerID, lesionID string, previous, current service.SnapshotInput) (*domain.LesionComparison, error)
	History(ctx context.Context, ownerID, lesionID string) ([]*domain.LesionComparison, error)
}

// PatientStore is the subset of patient persistence the API needs.
type PatientStore interface {
	Create(ctx context.Context, p *domain.Patient) error
	GetByID(ctx context.Context, id, ownerID string) (*domain.Patient, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Patient, error)
}

// Subscriber upgrades a request into a notification stream.
type Subscriber interface {
	Subscribe(w http.ResponseWriter, r *http.Request, ownerID string) error
}

// Dependencies carries everything the HTTP layer needs.
type Dependencies struct {
	Analysis   Analyzer
	Comparison Comparer
	Cases      domain.CaseRepository
	Patients   PatientStore
	Lesions    domain.LesionRepository
	Settings   domain.SettingsSource
	Feedback   feedback.Store
	Notify     Subscriber
	HealthFn   func(ctx context.Context) error
	Log        *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	server := &Server{
		configManager: configManager,
		deps:          deps,
		router:        router,
	}
	server.setupRoutes()
	return server
}

// Router exposes the underlying handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.Identity())
	{
		v1.POST("/patients", s.handleCreatePatient)
		v1.GET("/patients", s.handleListPatients)
		v1.GET("/patients/:id", s.handleGetPatient)

		v1.POST("/cases", s.handleCreateCase)
		v1.GET("/cases", s.handleListCases)
		v1.GET("/cases/:id", s.handleGetCase)
		v1.POST("/cases/:id/analyze", s.handleAnalyzeCase)

		v1.POST("/lesions", s.handleCreateLesion)
		v1.GET("/lesions/:id", s.handleGetLesion)
		v1.POST("/lesions/:id/snapshots", s.handleAddSnapshot)
		v1.GET("/lesions/:id/snapshots", s.handleListSnapshots)
		v1.POST("/lesions/:id/compare", s.handleCompareLesion)
		v1.GET("/lesions/:id/comparisons", s.handleListComparisons)

		v1.GET("/settings", s.handleGetSettings)
		v1.PUT("/settings", s.handlePutSettings)

		v1.POST("/feedback", s.handleSaveFeedback)
		v1.GET("/feedback", s.handleListFeedback)

		v1.GET("/ws/notifications", s.handleNotifications)
	}
}

// handleHealth reports liveness plus storage reachability.
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "ok"
	if s.deps.HealthFn != nil {
		if err := s.deps.HealthFn(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			dbStatus = err.Error()
		}
	}
	c.JSON(status, gin.H{
		"status":    map[bool]string{true: "healthy", false: "degraded"}[status == http.StatusOK],
		"database":  dbStatus,
		"timestamp": time.Now().UTC(),
	})
}

// handleNotifications upgrades the request into a push stream of analysis
// and comparison completion events.
func (s *Server) handleNotifications(c *gin.Context) {
	if err := s.deps.Notify.Subscribe(c.Writer, c.Request, middleware.Owner(c)); err != nil {
		s.deps.Log.WithError(err).Warn("WebSocket upgrade failed")
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-User-ID, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// respondError maps domain errors onto the standard error envelope.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString("correlation_id")

	var verr *domain.ValidationError
	var perr *domain.PersistenceError
	var failure *domain.ProviderFailure

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, domain.NewAPIError(domain.ErrValidation, verr.Message, verr.Field, requestID))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, domain.NewAPIError(domain.ErrInvalidInput, "Resource not found", "", requestID))
	case errors.Is(err, domain.ErrAnalysisInFlight):
		c.JSON(http.StatusConflict, domain.NewAPIError(domain.ErrConflict, "An analysis is already running for this case", "", requestID))
	case errors.As(err, &failure):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":            domain.NewAPIError(domain.ErrProviderError, failure.Message, failure.Hint, requestID),
			"provider_failure": failure,
		})
	case errors.As(err, &perr):
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(domain.ErrPersistence, "Analysis completed but could not be saved, please retry", perr.CaseID, requestID))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, domain.NewAPIError(domain.ErrInternalServer, "Request timed out", "", requestID))
	default:
		s.deps.Log.WithError(err).Error("Unhandled request error")
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(domain.ErrInternalServer, "Internal server error", "", requestID))
	}
}
