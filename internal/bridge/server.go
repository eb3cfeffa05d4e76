// Package bridge owns the HTTP boundary around one actor.
//
// Ownership boundary:
//   - inbound: POST / becomes a Regular mailbox message, coupled to the
//     caller until the reply slot resolves
//   - inbound (HTTP-capable actors): every other request becomes an HTTP
//     mailbox message served by the component's handle-http export
//   - operator surface: /healthz, /chain, /chain/stream, /contracts,
//     /metrics
//   - outbound: best-effort delivery of send payloads (deliverer.go)
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/actorctl/internal/actor"
	"github.com/danmuck/actorctl/internal/chain"
	"github.com/danmuck/actorctl/internal/observability"
	"github.com/danmuck/actorctl/internal/value"
	"github.com/danmuck/actorctl/internal/wasm"
)

// requestTimeout bounds how long an inbound request waits on the
// mailbox plus the sandbox invocation.
const requestTimeout = 30 * time.Second

// Mailbox is what the bridge needs from the actor runtime.
type Mailbox interface {
	Send(ctx context.Context, msg actor.Message) error
	Stats() actor.Stats
}

// Component is what the bridge needs from the component host.
type Component interface {
	SupportsHTTP() bool
	Contracts(ctx context.Context) (map[string]value.Value, error)
}

// Config assembles a Server.
type Config struct {
	ActorName   string
	Mailbox     Mailbox
	Component   Component
	Chain       *chain.Emitter
	Logger      zerolog.Logger
	CorsOrigins []string
}

// Server is the inbound HTTP bridge for one actor.
type Server struct {
	cfg    Config
	logger zerolog.Logger
	router *gin.Engine
	server *http.Server
}

func New(cfg Config) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(cfg.Logger))
	router.Use(observability.RequestMetricsMiddleware(cfg.ActorName))
	if len(cfg.CorsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	router.HandleMethodNotAllowed = true

	s := &Server{
		cfg:    cfg,
		logger: observability.Component(cfg.Logger, "bridge"),
		router: router,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.POST("/", s.handleMessage)
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/chain", s.handleChainHistory)
	s.router.GET("/chain/stream", s.handleChainStream)
	s.router.GET("/contracts", s.handleContracts)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.NoRoute(s.handleFallback)
	s.router.NoMethod(s.handleFallback)
}

// Router exposes the gin engine, primarily for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve blocks until ctx is cancelled, then shuts the listener down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.server = &http.Server{Addr: addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Msg("bridge listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		s.logger.Info().Msg("bridge stopped")
		return nil
	}
}

// handleMessage converts POST / into a Regular mailbox message and
// couples the caller to the actor's reply: the response body is the
// component's computed output.
func (s *Server) handleMessage(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read body failed"})
		return
	}
	content, err := value.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is not structured data"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	slot := actor.NewReplySlot()
	if err := s.cfg.Mailbox.Send(ctx, actor.Regular{Content: content, Response: slot}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	select {
	case result := <-slot:
		if result.Err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": result.Err.Error()})
			return
		}
		data, err := value.Encode(result.Output)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "output encode failed"})
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	case <-ctx.Done():
		c.JSON(http.StatusInternalServerError, gin.H{"error": "actor did not reply in time"})
	}
}

// handleFallback serves every request no explicit route claimed. For an
// HTTP-capable actor the request is forwarded to the handle-http
// export; for a base-only actor the method decides between 405 and 404
// without touching the mailbox.
func (s *Server) handleFallback(c *gin.Context) {
	if s.cfg.Component.SupportsHTTP() {
		s.forwardHTTP(c)
		return
	}
	if c.Request.Method != http.MethodPost {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	c.Status(http.StatusNotFound)
}

func (s *Server) forwardHTTP(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	var payload value.Bytes
	if len(body) > 0 {
		payload = value.Bytes(body)
	}

	request := wasm.HTTPRequest{
		Method:  c.Request.Method,
		URI:     c.Request.URL.RequestURI(),
		Headers: headerFields(c.Request.Header),
		Body:    payload,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	slot := actor.NewHTTPReplySlot()
	if err := s.cfg.Mailbox.Send(ctx, actor.HTTP{Request: request, Response: slot}); err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	select {
	case result := <-slot:
		if result.Err != nil {
			if errors.Is(result.Err, wasm.ErrUnsupportedCapability) {
				c.Status(http.StatusNotImplemented)
				return
			}
			c.Status(http.StatusInternalServerError)
			return
		}
		for _, pair := range result.Response.Headers.Pairs() {
			c.Writer.Header().Add(pair[0], pair[1])
		}
		c.Data(result.Response.Status, c.Writer.Header().Get("Content-Type"), result.Response.Body)
	case <-ctx.Done():
		c.Status(http.StatusGatewayTimeout)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.cfg.Mailbox.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"actor":  s.cfg.ActorName,
		"uptime": time.Since(stats.StartedAt).String(),
		"stats":  stats,
	})
}

func (s *Server) handleChainHistory(c *gin.Context) {
	history := s.cfg.Chain.History()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(history),
		"events": history,
	})
}

// handleChainStream relays a live chain subscription as server-sent
// events until the client goes away.
func (s *Server) handleChainStream(c *gin.Context) {
	sub := s.cfg.Chain.Subscribe()
	defer sub.Cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("chain", event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) handleContracts(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	contracts, err := s.cfg.Component.Contracts(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("contracts: %v", err)})
		return
	}
	c.JSON(http.StatusOK, contracts)
}

// headerFields flattens the request headers into the ordered pair list
// the sandbox contract uses.
func headerFields(header http.Header) wasm.HeaderFields {
	fields := make([][2]string, 0, len(header))
	for _, name := range sortedKeys(header) {
		for _, v := range header[name] {
			fields = append(fields, [2]string{name, v})
		}
	}
	return wasm.HeaderFields{Fields: fields}
}

func sortedKeys(header http.Header) []string {
	keys := make([]string, 0, len(header))
	for name := range header {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}
