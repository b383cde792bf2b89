// Package api exposes the webhook endpoints: one per messaging platform
// plus the payment webhook. Processing is synchronous within the request;
// a 2xx acknowledgment means the command ran.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/voxpost/internal/letters"
	"github.com/voxpost/internal/messenger"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/payments"
	"github.com/voxpost/internal/storage"
)

// Server represents the API server
type Server struct {
	echo       *echo.Echo
	host       string
	port       int
	factory    storage.Factory
	service    *letters.Service
	messengers map[models.Platform]messenger.Messenger
	payments   payments.Config

	// whatsappVerifyToken answers the Cloud API GET verification handshake.
	whatsappVerifyToken string
	// telegramSecret, when set, must match X-Telegram-Bot-Api-Secret-Token.
	telegramSecret string
}

// Options carries the collaborators the server wires into its routes.
type Options struct {
	Host                string
	Port                int
	Factory             storage.Factory
	Service             *letters.Service
	Messengers          map[models.Platform]messenger.Messenger
	Payments            payments.Config
	WhatsappVerifyToken string
	TelegramSecret      string
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		echo:                e,
		host:                opts.Host,
		port:                opts.Port,
		factory:             opts.Factory,
		service:             opts.Service,
		messengers:          opts.Messengers,
		payments:            opts.Payments,
		whatsappVerifyToken: opts.WhatsappVerifyToken,
		telegramSecret:      opts.TelegramSecret,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	webhooks := s.echo.Group("/webhooks")
	webhooks.GET("/whatsapp", s.verifyWhatsapp)
	webhooks.POST("/whatsapp", s.handleWhatsapp)
	webhooks.POST("/telegram", s.handleTelegram)
	webhooks.POST("/payments", s.handlePayment)
}

// Start begins the API server
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf("%s:%d", s.host, s.port)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
