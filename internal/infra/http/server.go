package http

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"decertify/internal/config"
	"decertify/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg      config.Config
	r        *gin.Engine
	requests *usecase.RequestService
	dbMode   bool
}

type ServerDeps struct {
	Requests *usecase.RequestService
	// DBMode is reported by /healthz.
	DBMode bool
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.MaxDocumentBytes > 0 {
		r.MaxMultipartMemory = cfg.MaxDocumentBytes + 1<<20
	}

	s := &Server{
		cfg:      cfg,
		r:        r,
		requests: deps.Requests,
		dbMode:   deps.DBMode,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		mode := "no-db"
		if s.dbMode {
			mode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/requests", s.handleCreateRequest)
		v1.GET("/requests", s.handleListRequests)
		v1.GET("/requests/:id", s.handleGetRequest)
		v1.GET("/requests/:id/events", s.handleListEvents)
		v1.PUT("/requests/:id/status", s.handleDecide)
		v1.POST("/requests/:id/retry", s.handleRetry)
		v1.POST("/requests/:id/reconcile", s.handleReconcile)

		v1.GET("/verify/:id", s.handleVerify)
		v1.GET("/verify/:id/document", s.handleVerifyDocument)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("http listening on %s", s.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
