package outbound

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

type sentMessage struct {
	kind string
	text string
}

type recordingSender struct {
	sent    []sentMessage
	failOn  string
	failErr error
}

func (s *recordingSender) record(kind, text string) error {
	if s.failOn == kind {
		return s.failErr
	}
	s.sent = append(s.sent, sentMessage{kind: kind, text: text})
	return nil
}

func (s *recordingSender) SendText(_ context.Context, _, text string) error {
	return s.record("text", text)
}

func (s *recordingSender) SendInteractive(_ context.Context, _ string, msg *wa.InteractiveMessage) error {
	return s.record("interactive", msg.Body.Text)
}

func (s *recordingSender) SendImage(_ context.Context, _, url, _ string) error {
	return s.record("image", url)
}

func (s *recordingSender) SendDocument(_ context.Context, _, url, _, _ string) error {
	return s.record("document", url)
}

func (s *recordingSender) SendTemplate(_ context.Context, _ string, tpl *wa.TemplateMessage) error {
	return s.record("template", tpl.Name)
}

func newTestDispatcher(sender Sender) *Dispatcher {
	d := NewDispatcher(sender)
	d.delay = 0
	return d
}

func TestDeliverPreservesOrder(t *testing.T) {
	sender := &recordingSender{}
	d := newTestDispatcher(sender)

	batch := []wa.Outbound{
		wa.TextMessage("primeira"),
		wa.DocumentMessage("https://files.petvet.ai/receita.pdf", "receita.pdf", ""),
		wa.ButtonsMessage("segunda", wa.Btn("menu", "Menu")),
	}
	if err := d.Deliver(context.Background(), "5511999990000", batch); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sender.sent))
	}
	kinds := []string{sender.sent[0].kind, sender.sent[1].kind, sender.sent[2].kind}
	if kinds[0] != "text" || kinds[1] != "document" || kinds[2] != "interactive" {
		t.Fatalf("order = %v", kinds)
	}
}

func TestDeliverAbortsBatchOnFailure(t *testing.T) {
	sender := &recordingSender{failOn: "document", failErr: errors.New("status 500")}
	d := newTestDispatcher(sender)

	batch := []wa.Outbound{
		wa.TextMessage("primeira"),
		wa.DocumentMessage("https://files.petvet.ai/receita.pdf", "receita.pdf", ""),
		wa.TextMessage("nunca enviada"),
	}
	err := d.Deliver(context.Background(), "5511999990000", batch)
	if err == nil {
		t.Fatal("batch failure swallowed")
	}
	if !strings.Contains(err.Error(), "deliver message 1") {
		t.Fatalf("err = %v, want failing position", err)
	}

	if len(sender.sent) != 1 || sender.sent[0].text != "primeira" {
		t.Fatalf("sent after abort = %+v, want only the first message", sender.sent)
	}
}

func TestDeliverSkipsUnknownType(t *testing.T) {
	sender := &recordingSender{}
	d := newTestDispatcher(sender)

	batch := []wa.Outbound{
		{Type: "sticker"},
		wa.TextMessage("ainda entregue"),
	}
	if err := d.Deliver(context.Background(), "5511999990000", batch); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 1 || sender.sent[0].text != "ainda entregue" {
		t.Fatalf("sent = %+v, want the known message only", sender.sent)
	}
}

func TestDeliverStopsWhenContextCancelled(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := []wa.Outbound{wa.TextMessage("primeira"), wa.TextMessage("segunda")}
	err := d.Deliver(ctx, "5511999990000", batch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want delivery to stop at the pacing wait", len(sender.sent))
	}
}
