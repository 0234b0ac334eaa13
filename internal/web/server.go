// Package web exposes the coordinator's SharedState as a read-only JSON API
// for dashboards, adapting the teacher's gin-based Server/ServerConfig
// pattern (internal/api/server.go) to a single /api router group with no
// auth, DB, or Redis dependency — this service has nothing behind it but
// in-process state.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pleblottery/pleblottery/internal/coordinator"
)

// ServerConfig configures the read-only dashboard API.
type ServerConfig struct {
	Port        int
	Environment string
}

// Server serves the dashboard API over SharedState.
type Server struct {
	config     ServerConfig
	state      *coordinator.SharedState
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer wires a Server around the coordinator's shared state.
func NewServer(config ServerConfig, state *coordinator.SharedState) *Server {
	if config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	s := &Server{
		config: config,
		state:  state,
		router: router,
	}

	router.GET("/health", s.handleHealth)
	api := router.Group("/api")
	api.GET("/template", s.handleTemplate)
	api.GET("/prevhash", s.handlePrevHash)
	api.GET("/stats", s.handleStats)
	api.GET("/clients", s.handleClients)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "pleblottery",
	})
}

func (s *Server) handleTemplate(c *gin.Context) {
	tmpl, _ := s.state.Latest()
	if tmpl == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no template yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"template_id":                 tmpl.TemplateID,
		"future_template":             tmpl.FutureTemplate,
		"version":                     tmpl.Version,
		"coinbase_tx_version":         tmpl.CoinbaseTxVersion,
		"coinbase_tx_value_remaining": tmpl.CoinbaseTxValueRemaining,
	})
}

func (s *Server) handlePrevHash(c *gin.Context) {
	_, prevHash := s.state.Latest()
	if prevHash == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no prev-hash activation yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"template_id":      prevHash.TemplateID,
		"prev_hash":        fmt.Sprintf("%x", prevHash.PrevHash),
		"header_timestamp": prevHash.HeaderTimestamp,
		"n_bits":           prevHash.NBits,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total_clients":          s.state.TotalClients(),
		"total_hashrate":         s.state.TotalHashrate(),
		"total_hashrate_human":   s.state.FormatHashrate(),
		"total_shares_submitted": s.state.TotalSharesSubmitted(),
		"best_share":             s.state.BestShare(),
		"best_share_human":       s.state.FormatBestShare(),
		"blocks_found":           s.state.BlocksFound(),
	})
}

func (s *Server) handleClients(c *gin.Context) {
	clients := s.state.Registry.Clients()
	out := make([]gin.H, 0, len(clients))
	for _, cl := range clients {
		standard, extended, group := cl.Channels()
		out = append(out, gin.H{
			"client_id":         cl.ClientID,
			"standard_channels": len(standard),
			"extended_channels": len(extended),
			"has_group_channel": group != nil,
			"nominal_hashrate":  cl.TotalNominalHashrate(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"clients": out})
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// gracefully shuts down (teacher's api.Server.Run, generalized to take an
// external context instead of its own signal.Notify loop, since
// cmd/pleblottery/main.go owns the single shutdown signal for every
// service).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("web server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
