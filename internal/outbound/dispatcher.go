// Package outbound delivers flow replies to the provider in order.
package outbound

import (
	"context"
	"fmt"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

// Pacing between consecutive sends to one recipient, so the provider
// delivers them in order.
const interSendDelay = 100 * time.Millisecond

// Sender is the provider client surface the dispatcher drives.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendInteractive(ctx context.Context, to string, msg *wa.InteractiveMessage) error
	SendImage(ctx context.Context, to, url, caption string) error
	SendDocument(ctx context.Context, to, url, filename, caption string) error
	SendTemplate(ctx context.Context, to string, tpl *wa.TemplateMessage) error
}

// Dispatcher sends a batch of outbound messages sequentially. A failed send
// aborts the batch so the caller can retry the job without reordering.
type Dispatcher struct {
	sender Sender
	delay  time.Duration
}

// NewDispatcher builds a dispatcher over the provider client.
func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender, delay: interSendDelay}
}

// Deliver sends messages to one recipient in order. Messages of an unknown
// type are logged and skipped.
func (d *Dispatcher) Deliver(ctx context.Context, to string, messages []wa.Outbound) error {
	for i, msg := range messages {
		if i > 0 && d.delay > 0 {
			timer := time.NewTimer(d.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := d.send(ctx, to, msg); err != nil {
			logger.OUT.Error("delivery failed",
				"event", "out.deliver",
				"op", string(msg.Type),
				"wa_id", logger.MaskPhone(to),
				"count", i,
				"err", err)
			return fmt.Errorf("deliver message %d (%s): %w", i, msg.Type, err)
		}
	}

	if len(messages) > 0 {
		logger.OUT.Debug("batch delivered",
			"event", "out.deliver",
			"wa_id", logger.MaskPhone(to),
			"messages", len(messages))
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, to string, msg wa.Outbound) error {
	switch msg.Type {
	case wa.OutboundText:
		return d.sender.SendText(ctx, to, msg.Text)
	case wa.OutboundInteractive:
		if msg.Interactive == nil {
			return fmt.Errorf("interactive message without payload")
		}
		return d.sender.SendInteractive(ctx, to, msg.Interactive)
	case wa.OutboundImage:
		if msg.Image == nil {
			return fmt.Errorf("image message without payload")
		}
		return d.sender.SendImage(ctx, to, msg.Image.URL, msg.Image.Caption)
	case wa.OutboundDocument:
		if msg.Document == nil {
			return fmt.Errorf("document message without payload")
		}
		return d.sender.SendDocument(ctx, to, msg.Document.URL, msg.Document.Filename, msg.Document.Caption)
	case wa.OutboundTemplate:
		if msg.Template == nil {
			return fmt.Errorf("template message without payload")
		}
		return d.sender.SendTemplate(ctx, to, msg.Template)
	default:
		logger.OUT.Warn("unknown outbound type skipped",
			"event", "out.deliver",
			"op", string(msg.Type))
		return nil
	}
}
