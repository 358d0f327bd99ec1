package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

const (
	graphAPIURL     = "https://graph.facebook.com"
	whatsappTimeout = 30 * time.Second

	// Cloud API media downloads can be large.
	maxMediaBytes = 64 << 20
)

// WhatsApp sends messages through the Cloud API on behalf of one business
// phone number.
type WhatsApp struct {
	apiVersion    string
	phoneNumberID string
	accessToken   string
	baseURL       string
	hc            *http.Client
}

// WhatsAppOption adjusts client construction.
type WhatsAppOption func(*WhatsApp)

// WithBaseURL points the client at a non-default Graph API host. Used by
// tests and local stubs.
func WithBaseURL(base string) WhatsAppOption {
	return func(w *WhatsApp) { w.baseURL = base }
}

// NewWhatsApp builds a Cloud API client.
func NewWhatsApp(apiVersion, phoneNumberID, accessToken string, opts ...WhatsAppOption) *WhatsApp {
	w := &WhatsApp{
		apiVersion:    apiVersion,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		baseURL:       graphAPIURL,
		hc:            buildHTTPClient(whatsappTimeout),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WhatsApp) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + w.accessToken}
}

func (w *WhatsApp) messagesURL() string {
	return fmt.Sprintf("%s/%s/%s/messages", w.baseURL, w.apiVersion, w.phoneNumberID)
}

func (w *WhatsApp) post(ctx context.Context, body any) error {
	err := doJSON(ctx, w.hc, http.MethodPost, w.messagesURL(), w.authHeader(), body, nil)
	if err != nil {
		logger.WA.Error("send failed",
			"event", "wa.send",
			"http_code", StatusCode(err),
			"err", err)
	}
	return err
}

// SendText delivers a plain text message.
func (w *WhatsApp) SendText(ctx context.Context, to, text string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	if err := w.post(ctx, body); err != nil {
		return err
	}
	logger.WA.Debug("text sent",
		"event", "wa.send",
		"wa_id", logger.MaskPhone(to),
		"count", len(text))
	return nil
}

// SendInteractive delivers a buttons or list message.
func (w *WhatsApp) SendInteractive(ctx context.Context, to string, msg *wa.InteractiveMessage) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive":       msg,
	}
	if err := w.post(ctx, body); err != nil {
		return err
	}
	logger.WA.Debug("interactive sent",
		"event", "wa.send",
		"wa_id", logger.MaskPhone(to),
		"op", msg.Type)
	return nil
}

// SendImage delivers an image by public URL.
func (w *WhatsApp) SendImage(ctx context.Context, to, url, caption string) error {
	image := map[string]string{"link": url}
	if caption != "" {
		image["caption"] = caption
	}
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "image",
		"image":             image,
	}
	if err := w.post(ctx, body); err != nil {
		return err
	}
	logger.WA.Debug("image sent", "event", "wa.send", "wa_id", logger.MaskPhone(to))
	return nil
}

// SendDocument delivers a document by public URL.
func (w *WhatsApp) SendDocument(ctx context.Context, to, url, filename, caption string) error {
	doc := map[string]string{"link": url, "filename": filename}
	if caption != "" {
		doc["caption"] = caption
	}
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "document",
		"document":          doc,
	}
	if err := w.post(ctx, body); err != nil {
		return err
	}
	logger.WA.Debug("document sent", "event", "wa.send", "wa_id", logger.MaskPhone(to))
	return nil
}

// SendTemplate delivers a pre-approved template, used outside the 24h
// service window.
func (w *WhatsApp) SendTemplate(ctx context.Context, to string, tpl *wa.TemplateMessage) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "template",
		"template":          tpl,
	}
	if err := w.post(ctx, body); err != nil {
		return err
	}
	logger.WA.Debug("template sent",
		"event", "wa.send",
		"wa_id", logger.MaskPhone(to),
		"op", tpl.Name)
	return nil
}

// MarkAsRead flags an inbound message as read so the user sees blue ticks.
func (w *WhatsApp) MarkAsRead(ctx context.Context, messageID string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	if err := w.post(ctx, body); err != nil {
		return err
	}
	logger.WA.Debug("marked as read", "event", "wa.read", "message_id", messageID)
	return nil
}

// DownloadMedia resolves a media id to its CDN URL and fetches the bytes.
func (w *WhatsApp) DownloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	metaURL := fmt.Sprintf("%s/%s/%s", w.baseURL, w.apiVersion, mediaID)
	if err := doJSON(ctx, w.hc, http.MethodGet, metaURL, w.authHeader(), nil, &meta); err != nil {
		return nil, fmt.Errorf("resolve media %s: %w", mediaID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, url: meta.URL}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", mediaID, err)
	}
	logger.WA.Debug("media downloaded",
		"event", "wa.media",
		"message_id", mediaID,
		"count", len(data))
	return data, nil
}
