// Package control exposes the registry over HTTP: status, cancel and bar
// injection for feeds that push instead of being replayed.
package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/registry"
)

// CandleSink sees every bar before the tradestrategies do, e.g. the paper
// gateway filling working orders.
type CandleSink interface {
	OnCandle(market.Candle)
}

type Server struct {
	reg  *registry.Registry
	sink CandleSink
	log  logrus.FieldLogger
}

type Option func(*Server)

func WithSink(s CandleSink) Option {
	return func(srv *Server) { srv.sink = s }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(srv *Server) {
		if log != nil {
			srv.log = log
		}
	}
}

func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{reg: reg, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BarRequest is the body of a bar post.
type BarRequest struct {
	Candle market.Candle `json:"candle"`
	NewBar bool          `json:"new_bar"`
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.POST("/bars", s.handleBars)

	ts := api.Group("/tradestrategies")
	ts.GET("", s.handleList)
	ts.GET("/:id", s.handleGet)
	ts.POST("/:id/cancel", s.handleCancel)
	ts.POST("/:id/bars", s.handleBar)
	ts.DELETE("/:id", s.handleRemove)
	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.WithField("addr", addr).Info("control api listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.List())
}

func (s *Server) handleGet(c *gin.Context) {
	st, err := s.reg.Status(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")
	if err := s.reg.Cancel(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.handleGet(c)
}

func (s *Server) handleRemove(c *gin.Context) {
	if err := s.reg.Remove(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBar(c *gin.Context) {
	id := c.Param("id")
	st, err := s.reg.Status(id)
	if err != nil {
		s.fail(c, err)
		return
	}

	var req BarRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Candle.Instrument == "" {
		req.Candle.Instrument = st.Symbol
	}
	if req.Candle.Instrument != st.Symbol {
		c.JSON(http.StatusBadRequest, gin.H{"error": "candle is for " + req.Candle.Instrument + ", tradestrategy trades " + st.Symbol})
		return
	}

	if s.sink != nil {
		s.sink.OnCandle(req.Candle)
	}
	if err := s.reg.Dispatch(c.Request.Context(), id, req.Candle, req.NewBar); err != nil {
		s.fail(c, err)
		return
	}
	s.handleGet(c)
}

// handleBars fans a bar out to every tradestrategy on its instrument.
func (s *Server) handleBars(c *gin.Context) {
	var req BarRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Candle.Instrument == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "candle instrument is required"})
		return
	}

	if s.sink != nil {
		s.sink.OnCandle(req.Candle)
	}
	if err := s.reg.DispatchAll(c.Request.Context(), req.Candle, req.NewBar); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) bind(c *gin.Context, req *BarRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if req.Candle.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "candle start is required"})
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, registry.ErrActive):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("control request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start),
		}).Debug("control request")
	}
}
