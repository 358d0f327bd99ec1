// Package gateway terminates the provider webhook: verification handshake,
// signature check and fan-out of inbound messages into the queue.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/queue"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

const (
	signatureHeader = "X-Signature"
	signaturePrefix = "sha256="

	maxBodyBytes = 1 << 20
)

// Enqueuer accepts inbound message jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload) (*queue.Job, bool, error)
}

// Handler serves the webhook endpoints.
type Handler struct {
	verifyToken string
	appSecret   []byte
	queue       Enqueuer
	now         func() time.Time

	// async runs post-ack processing; tests replace it to run inline.
	async func(func())
}

// NewHandler builds the webhook handler.
func NewHandler(verifyToken, appSecret string, q Enqueuer) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   []byte(appSecret),
		queue:       q,
		now:         time.Now,
		async:       func(fn func()) { go fn() },
	}
}

// Mount registers the webhook routes.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/webhooks/whatsapp", h.verify)
	r.Post("/webhooks/whatsapp", h.receive)
}

// verify answers the provider's subscription handshake: echo the challenge
// only when the mode and pre-shared token match.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	token := q.Get("verify_token")
	challenge := q.Get("challenge")

	if mode == "subscribe" && token == h.verifyToken {
		logger.WH.Info("webhook verified", "event", "webhook.verify", "status", "ok")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}

	logger.WH.Warn("webhook verification rejected",
		"event", "webhook.verify",
		"status", "fail",
		"op", mode)
	w.WriteHeader(http.StatusForbidden)
}

// receive authenticates the delivery, acknowledges it immediately, then
// fans the payload's messages out into the queue.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	rid := uuid.NewString()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.WH.Warn("body read failed", "event", "webhook.receive", "rid", rid, "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.validSignature(body, r.Header.Get(signatureHeader)) {
		logger.WH.Warn("invalid webhook signature",
			"event", "webhook.receive",
			"status", "fail",
			"rid", rid)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// The provider enforces a short response SLA; ack before any parsing.
	w.WriteHeader(http.StatusOK)

	h.async(func() {
		ctx := logger.WithRID(context.Background(), rid)
		h.dispatch(ctx, body, start)
	})
}

// validSignature compares the header against an HMAC-SHA256 of the exact
// raw body bytes.
func (h *Handler) validSignature(body []byte, header string) bool {
	if len(header) <= len(signaturePrefix) || header[:len(signaturePrefix)] != signaturePrefix {
		return false
	}
	mac := hmac.New(sha256.New, h.appSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header[len(signaturePrefix):]), []byte(expected))
}

func (h *Handler) dispatch(ctx context.Context, body []byte, start time.Time) {
	var payload wa.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WH.Error("payload decode failed", "event", "webhook.receive", "err", err)
		return
	}

	if payload.Object != wa.ObjectBusinessAccount {
		logger.WH.Debug("foreign webhook ignored",
			"event", "webhook.receive",
			"op", payload.Object)
		return
	}

	queued := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			// Delivery receipts are observability only, never jobs.
			if len(change.Value.Statuses) > 0 {
				for _, status := range change.Value.Statuses {
					logger.WH.Debug("status update",
						"event", "webhook.status",
						"message_id", status.ID,
						"op", status.Status,
						"wa_id", logger.MaskPhone(status.RecipientID))
				}
				continue
			}

			var contact *wa.Contact
			if len(change.Value.Contacts) > 0 {
				contact = &change.Value.Contacts[0]
			}

			for _, message := range change.Value.Messages {
				if h.enqueue(ctx, message, contact, change.Value.Metadata) {
					queued++
				}
			}
		}
	}

	logger.WH.Info("webhook processed",
		"event", "webhook.receive",
		"status", "ok",
		"messages", queued,
		"duration", h.now().Sub(start))
}

// enqueue adds one message job, reporting whether it was accepted.
func (h *Handler) enqueue(ctx context.Context, message wa.Message, contact *wa.Contact, metadata wa.Metadata) bool {
	logger.WH.Info("queuing message",
		"event", "webhook.enqueue",
		"message_id", message.ID,
		"wa_id", logger.MaskPhone(message.From),
		"op", message.Type)

	_, accepted, err := h.queue.Enqueue(ctx, queue.Payload{
		Message:    message,
		Contact:    contact,
		Metadata:   metadata,
		ReceivedAt: h.now(),
	})
	if err != nil {
		logger.WH.Error("enqueue failed",
			"event", "webhook.enqueue",
			"message_id", message.ID,
			"err", err)
		return false
	}
	return accepted
}
