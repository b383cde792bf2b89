package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/voxpost/internal/messenger"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/payments"
)

// verifyWhatsapp answers the Cloud API subscription handshake: echo back
// hub.challenge when the verify token matches.
func (s *Server) verifyWhatsapp(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode == "subscribe" && token == s.whatsappVerifyToken && challenge != "" {
		return c.String(http.StatusOK, challenge)
	}
	return c.NoContent(http.StatusForbidden)
}

func (s *Server) handleWhatsapp(c echo.Context) error {
	return s.handleInbound(c, models.PlatformWhatsapp)
}

func (s *Server) handleTelegram(c echo.Context) error {
	if s.telegramSecret != "" &&
		c.Request().Header.Get("X-Telegram-Bot-Api-Secret-Token") != s.telegramSecret {
		return c.NoContent(http.StatusForbidden)
	}
	return s.handleInbound(c, models.PlatformTelegram)
}

// handleInbound runs the full pipeline for one webhook delivery: normalize,
// dispatch, commit. Handler failures roll back and return 500 so the
// platform redelivers; unclassifiable payloads are acknowledged and
// dropped because redelivery cannot fix them.
func (s *Server) handleInbound(c echo.Context, platform models.Platform) error {
	msgr, ok := s.messengers[platform]
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	uow, err := s.factory.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to open unit of work")
		return c.NoContent(http.StatusInternalServerError)
	}
	defer uow.Rollback()

	msg, err := msgr.ProcessMessage(ctx, raw, uow)
	switch {
	case errors.Is(err, messenger.ErrNoMessage):
		return c.NoContent(http.StatusOK)
	case errors.Is(err, messenger.ErrUnknownPayload):
		log.Warn().Err(err).Str("platform", string(platform)).Msg("dropping unclassifiable event")
		return c.NoContent(http.StatusOK)
	case err != nil:
		log.Error().Err(err).Str("platform", string(platform)).Msg("failed to process inbound event")
		return c.NoContent(http.StatusInternalServerError)
	}

	if err := s.service.Handle(ctx, msg, uow, msgr); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Str("command", msg.Command).
			Msg("command handler failed")
		return c.NoContent(http.StatusInternalServerError)
	}
	if err := uow.Commit(); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to commit")
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handlePayment(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	sig := c.Request().Header.Get("Stripe-Signature")
	if err := s.payments.Verify(raw, sig, time.Now()); err != nil {
		log.Warn().Err(err).Msg("rejecting payment webhook")
		return c.NoContent(http.StatusBadRequest)
	}
	event, err := payments.ParseEvent(raw)
	if err != nil {
		log.Warn().Err(err).Msg("undecodable payment webhook")
		return c.NoContent(http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	uow, err := s.factory.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to open unit of work")
		return c.NoContent(http.StatusInternalServerError)
	}
	defer uow.Rollback()

	result, err := s.service.HandlePayment(ctx, event, uow, func(p models.Platform) (messenger.Messenger, bool) {
		m, ok := s.messengers[p]
		return m, ok
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", event.OrderID).Msg("payment handling failed")
		return c.NoContent(http.StatusInternalServerError)
	}
	if err := uow.Commit(); err != nil {
		log.Error().Err(err).Str("order_id", event.OrderID).Msg("failed to commit")
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"received":   true,
		"dispatched": result.Dispatched,
	})
}
