package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	paymentdomain "github.com/listinglens/listinglens/internal/payment/domain"
)

// maxWebhookBody caps webhook payloads at 1 MiB. Provider events are a few
// KB; anything larger is noise or abuse.
const maxWebhookBody = 1 << 20

// HandlePaymentWebhook ingests a provider webhook. Malformed or unmappable
// events are acknowledged with 200 so the provider stops redelivering them;
// only signature failures and our own outages tell the provider to retry.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err = s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		s.recordWebhookRejected(c, provider, "invalid_signature")
		AbortWithError(c, err)
	case errors.Is(err, paymentdomain.ErrInvalidProvider), errors.Is(err, paymentdomain.ErrProviderNotFound):
		s.recordWebhookRejected(c, provider, "unknown_provider")
		AbortWithError(c, paymentdomain.ErrProviderNotFound)
	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidWorkspace),
		errors.Is(err, paymentdomain.ErrInvalidCredits),
		errors.Is(err, creditdomain.ErrWorkspaceNotFound):
		// Acknowledged but dropped: redelivery of a bad payload or an
		// event naming a workspace we do not have can never succeed, so
		// 4xx/5xx here would retry forever.
		s.recordWebhookRejected(c, provider, "malformed_event")
		s.log.Warn("dropping malformed webhook event",
			zap.String("provider", provider),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	case errors.Is(err, paymentdomain.ErrInvalidConfig):
		s.log.Error("webhook ingestion misconfigured", zap.String("provider", provider))
		AbortWithError(c, ErrServiceUnavailable)
	default:
		s.log.Error("webhook ingestion failed",
			zap.String("provider", provider),
			zap.Error(err),
		)
		AbortWithError(c, ErrServiceUnavailable)
	}
}

func (s *Server) recordWebhookRejected(c *gin.Context, provider, reason string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordWebhookRejected(c.Request.Context(), provider, reason)
}
