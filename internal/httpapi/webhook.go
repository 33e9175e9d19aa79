package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"voicegate/internal/calls"
	"voicegate/internal/lifecycle"
	"voicegate/internal/telephony"

	"github.com/gin-gonic/gin"
)

// WebhookHandler terminates provider callbacks. Signature verification and
// payload parsing stay inside the provider adapter; this layer only maps
// parsed events onto the lifecycle manager and answers in the provider's
// expected format.
type WebhookHandler struct {
	Provider  telephony.Provider
	Lifecycle *lifecycle.Manager
	Logger    *slog.Logger
}

func (h WebhookHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// HandleEvents processes status callback deliveries. The provider retries on
// non-2xx, so every event-level problem is absorbed after logging; only
// verification and malformed-payload failures surface as errors.
func (h WebhookHandler) HandleEvents(c *gin.Context) {
	if err := h.Provider.VerifyWebhook(c.Request); err != nil {
		h.log().Warn("webhook signature rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signature verification failed"})
		return
	}

	events, status, err := h.Provider.ParseWebhookEvent(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	for _, ev := range events {
		if err := h.Lifecycle.ProcessEvent(c.Request.Context(), ev); err != nil {
			h.log().Error("event processing failed", "event_id", ev.ID, "err", err)
		}
	}
	c.Status(status)
}

// HandleInboundVoice answers the provider's "what should this call do" request
// for a new inbound call. The ringing event carried by the request runs
// through admission first; the TwiML response then depends on whether a
// record was created.
func (h WebhookHandler) HandleInboundVoice(c *gin.Context) {
	if err := h.Provider.VerifyWebhook(c.Request); err != nil {
		h.log().Warn("webhook signature rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signature verification failed"})
		return
	}

	events, status, err := h.Provider.ParseWebhookEvent(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	var providerCallID string
	for _, ev := range events {
		providerCallID = ev.ProviderCallID
		if err := h.Lifecycle.ProcessEvent(c.Request.Context(), ev); err != nil {
			h.log().Error("event processing failed", "event_id", ev.ID, "err", err)
		}
	}

	// Untracked after admission means the policy rejected the caller (or the
	// request carried no usable event): tell the provider to drop the call.
	if providerCallID != "" {
		if _, err := h.Lifecycle.GetCallByProviderCallID(c.Request.Context(), providerCallID); err == nil {
			doc, err := telephony.HoldTwiML(holdSeconds)
			h.respondTwiML(c, doc, err)
			return
		} else if !errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
			return
		}
	}
	doc, err := telephony.RejectTwiML()
	h.respondTwiML(c, doc, err)
}

// holdSeconds keeps an admitted caller parked until the media stream opens.
const holdSeconds = 120

func (h WebhookHandler) respondTwiML(c *gin.Context, doc string, err error) {
	if err != nil {
		h.log().Error("twiml render failed", "err", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "text/xml", []byte(doc))
}
