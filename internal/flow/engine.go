package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

const helpText = "*Ajuda - PetVet AI*\n\n" +
	"Comandos disponiveis:\n" +
	"- *menu* - Voltar ao menu principal\n" +
	"- *ajuda* - Mostrar esta mensagem\n" +
	"- *cancelar* - Cancelar operacao atual\n\n" +
	"Para iniciar uma consulta, envie \"menu\" e selecione \"Nova Consulta\".\n\n" +
	"Duvidas? Envie um email para suporte@petvet.ai"

const apologyText = "Desculpe, ocorreu um erro. Por favor, tente novamente.\n\n" +
	"Digite *menu* para voltar ao inicio."

// Engine routes messages to the flow recorded in the session. The flow set
// is fixed at construction.
type Engine struct {
	flows map[session.FlowName]Flow
	menu  *MainMenu
}

// NewEngine builds the engine with its four flows.
func NewEngine(deps Deps) *Engine {
	menu := NewMainMenu(deps)
	all := []Flow{
		menu,
		NewRegistration(deps),
		NewConsultation(deps),
		NewSubscription(deps),
	}
	flows := make(map[session.FlowName]Flow, len(all))
	for _, f := range all {
		flows[f.Name()] = f
	}
	return &Engine{flows: flows, menu: menu}
}

// Process runs one message through the engine. It never fails the
// conversation: flow errors and panics collapse into an apology and a reset
// to the main menu.
func (e *Engine) Process(ctx context.Context, fc *Context) *Result {
	res, err := e.dispatch(ctx, fc)
	if err != nil {
		logger.FLOW.Error("flow failed",
			"event", "flow.process",
			"status", "fail",
			"flow", string(fc.Session.State.Flow),
			"step", fc.Session.State.Step,
			"err", err)
		return &Result{
			Messages: []wa.Outbound{wa.TextMessage(apologyText)},
			State:    session.InitialState(),
		}
	}
	return res
}

func (e *Engine) dispatch(ctx context.Context, fc *Context) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flow panic: %v", r)
		}
	}()

	if global := e.globalCommand(ctx, fc); global != nil {
		return global, nil
	}

	name := fc.Session.State.Flow
	if name == "" {
		name = session.FlowMainMenu
	}
	f, ok := e.flows[name]
	if !ok {
		return nil, fmt.Errorf("unknown flow %q", name)
	}

	logger.FLOW.Debug("dispatch",
		"event", "flow.dispatch",
		"flow", string(name),
		"step", fc.Session.State.Step,
		"op", string(fc.Content.Type))

	return f.Process(ctx, fc)
}

// globalCommand intercepts commands that work from any flow: the menu, help
// and cancel keywords, and the reply buttons with the same meaning.
func (e *Engine) globalCommand(ctx context.Context, fc *Context) *Result {
	switch fc.Content.Type {
	case wa.ContentText:
		normalized := strings.ToLower(strings.TrimSpace(fc.Content.Text))
		switch normalized {
		case "menu", "inicio", "voltar", "home", "0":
			return e.menu.ShowMenu(fc, "")
		case "ajuda", "help", "?", "socorro":
			return e.showHelp(fc)
		case "cancelar", "sair", "cancel", "exit":
			return e.menu.ShowMenu(fc, "Operacao cancelada.")
		}
	case wa.ContentButton:
		switch fc.Content.ButtonID {
		case "menu":
			return e.menu.ShowMenu(fc, "")
		case "help":
			return e.menu.ShowHelp()
		}
	}
	return nil
}

func (e *Engine) showHelp(fc *Context) *Result {
	return &Result{
		Messages: []wa.Outbound{wa.TextMessage(helpText)},
		// Help does not move the conversation.
		State: fc.Session.State,
	}
}
