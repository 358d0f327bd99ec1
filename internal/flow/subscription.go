package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/clients"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

// Plan is one subscription tier.
type Plan struct {
	Key      string
	Name     string
	Price    string
	Features []string
}

var plans = []Plan{
	{
		Key:      "basic",
		Name:     "Basico",
		Price:    "R$ 29,90/mes",
		Features: []string{"5 consultas/mes", "1 pet"},
	},
	{
		Key:      "family",
		Name:     "Familia",
		Price:    "R$ 49,90/mes",
		Features: []string{"Consultas ilimitadas", "Ate 3 pets"},
	},
	{
		Key:      "premium",
		Name:     "Premium",
		Price:    "R$ 79,90/mes",
		Features: []string{"Consultas ilimitadas", "Pets ilimitados", "Analise de imagem", "Suporte prioritario"},
	},
}

func planByKey(key string) *Plan {
	for i := range plans {
		if plans[i].Key == key {
			return &plans[i]
		}
	}
	return nil
}

func featureList(features []string, indent string) string {
	var b strings.Builder
	for i, f := range features {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(indent + "- " + f)
	}
	return b.String()
}

// Subscription shows the current plan, signs the user up for a new plan and
// handles cancellation.
type Subscription struct {
	backend Directory
	binder  Binder
}

// NewSubscription builds the subscription flow.
func NewSubscription(deps Deps) *Subscription {
	return &Subscription{backend: deps.Backend, binder: deps.Binder}
}

func (s *Subscription) Name() session.FlowName { return session.FlowSubscription }

func (s *Subscription) Process(ctx context.Context, fc *Context) (*Result, error) {
	state := fc.Session.State
	if state.Subscription == nil {
		state.Subscription = &session.SubscriptionData{}
	}
	data := *state.Subscription

	switch state.Step {
	case "", "view":
		return s.showCurrent(ctx, fc)
	case "select-plan":
		return s.handlePlanSelection(ctx, fc, data)
	case "confirm":
		return s.handleConfirmation(ctx, fc, data)
	case "cancel-confirm":
		return s.handleCancelConfirm(ctx, fc)
	case "payment":
		return &Result{
			Messages: []wa.Outbound{wa.TextMessage("Aguardando confirmacao do pagamento...")},
			State:    session.InitialState(),
		}, nil
	default:
		return s.showCurrent(ctx, fc)
	}
}

func (s *Subscription) state(step string, data session.SubscriptionData) session.FlowState {
	return session.FlowState{
		Flow:         session.FlowSubscription,
		Step:         step,
		Subscription: &data,
	}
}

func (s *Subscription) showCurrent(ctx context.Context, fc *Context) (*Result, error) {
	if fc.Session.UserID == "" {
		return s.showPlans("Conheca nossos planos:"), nil
	}

	sub, err := s.backend.SubscriptionFor(ctx, fc.Session.UserID)
	if err != nil {
		if !errors.Is(err, clients.ErrNotFound) {
			logger.FLOW.Error("subscription lookup failed", "event", "flow.subscription", "err", err)
		}
		return s.showPlans("Voce ainda nao tem uma assinatura ativa."), nil
	}
	if sub.Status != "active" {
		return s.showPlans("Voce ainda nao tem uma assinatura ativa."), nil
	}

	planName := sub.Plan
	features := ""
	if plan := planByKey(sub.Plan); plan != nil {
		planName = plan.Name
		features = "\n\nBeneficios:\n" + featureList(plan.Features, "")
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(fmt.Sprintf("*Sua Assinatura*\n\nPlano: *%s*\nStatus: *Ativo*\nRenovacao: %s%s",
				planName, formatPeriodEnd(sub.CurrentPeriodEnd), features)),
			wa.ButtonsMessage("O que deseja fazer?",
				wa.Btn("upgrade-plan", "Mudar Plano"),
				wa.Btn("cancel-subscription", "Cancelar"),
				wa.Btn("menu", "Menu"),
			),
		},
		State: s.state("select-plan", session.SubscriptionData{}),
	}, nil
}

func (s *Subscription) showPlans(prefix string) *Result {
	var b strings.Builder
	for i, plan := range plans {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "*%s* - %s\n%s", plan.Name, plan.Price, featureList(plan.Features, "  "))
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(prefix + "\n\n" + b.String()),
			wa.ButtonsMessage("Escolha um plano:",
				wa.Btn("plan-basic", "Basico R$29,90"),
				wa.Btn("plan-family", "Familia R$49,90"),
				wa.Btn("plan-premium", "Premium R$79,90"),
			),
		},
		State: s.state("select-plan", session.SubscriptionData{}),
	}
}

func (s *Subscription) handlePlanSelection(ctx context.Context, fc *Context, data session.SubscriptionData) (*Result, error) {
	var selected string

	if fc.Content.Type == wa.ContentButton && fc.Content.ButtonID != "" {
		switch {
		case fc.Content.ButtonID == "upgrade-plan":
			return s.showPlans("Escolha seu novo plano:"), nil
		case fc.Content.ButtonID == "cancel-subscription":
			return s.confirmCancellation(), nil
		case strings.HasPrefix(fc.Content.ButtonID, "plan-"):
			selected = strings.TrimPrefix(fc.Content.ButtonID, "plan-")
		}
	}

	if fc.Content.Type == wa.ContentText && fc.Content.Text != "" {
		normalized := strings.ToLower(strings.TrimSpace(fc.Content.Text))
		switch {
		case strings.Contains(normalized, "basico") || normalized == "1":
			selected = "basic"
		case strings.Contains(normalized, "familia") || normalized == "2":
			selected = "family"
		case strings.Contains(normalized, "premium") || normalized == "3":
			selected = "premium"
		}
	}

	plan := planByKey(selected)
	if plan == nil {
		return &Result{
			Messages: []wa.Outbound{wa.TextMessage("Por favor, selecione um plano valido.")},
			State:    s.state("select-plan", session.SubscriptionData{}),
		}, nil
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(fmt.Sprintf("*Confirmar Assinatura*\n\nPlano: *%s*\nValor: *%s*\n\nBeneficios:\n%s",
				plan.Name, plan.Price, featureList(plan.Features, ""))),
			wa.ButtonsMessage("Deseja confirmar esta assinatura?",
				wa.Btn("confirm-subscription", "Confirmar"),
				wa.Btn("change-plan", "Mudar Plano"),
				wa.Btn("menu", "Cancelar"),
			),
		},
		State: s.state("confirm", session.SubscriptionData{SelectedPlan: plan.Key}),
	}, nil
}

func (s *Subscription) handleConfirmation(ctx context.Context, fc *Context, data session.SubscriptionData) (*Result, error) {
	if fc.Content.Type == wa.ContentButton {
		switch fc.Content.ButtonID {
		case "confirm-subscription":
			if fc.Session.UserID == "" {
				// Registration creates the account, then hands back here.
				return &Result{
					Messages: []wa.Outbound{
						wa.TextMessage("Para assinar, primeiro precisamos cadastrar voce. Vamos criar seu perfil?"),
					},
					State: session.FlowState{
						Flow: session.FlowRegistration,
						Step: "start",
						Registration: &session.RegistrationData{
							ReturnFlow: session.FlowSubscription,
							ReturnPlan: data.SelectedPlan,
						},
					},
				}, nil
			}
			return s.processSubscription(ctx, fc, data.SelectedPlan)

		case "change-plan":
			return s.showPlans("Escolha seu plano:"), nil
		}
	}

	return &Result{
		Messages: []wa.Outbound{wa.TextMessage("Por favor, confirme ou altere seu plano.")},
		State:    fc.Session.State,
	}, nil
}

func (s *Subscription) processSubscription(ctx context.Context, fc *Context, planKey string) (*Result, error) {
	plan := planByKey(planKey)
	if plan == nil {
		return s.showPlans("Escolha um plano:"), nil
	}

	result, err := s.backend.CreateSubscription(ctx, fc.Session.UserID, planKey)
	if err != nil {
		logger.FLOW.Error("subscription creation failed",
			"event", "flow.subscription",
			"plan", planKey,
			"err", err)
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage("Desculpe, ocorreu um erro ao processar sua assinatura. Por favor, tente novamente."),
				wa.ButtonsMessage("O que deseja fazer?",
					wa.Btn("plan-"+planKey, "Tentar Novamente"),
					wa.Btn("menu", "Menu"),
				),
			},
			State: s.state("select-plan", session.SubscriptionData{}),
		}, nil
	}

	if result.CheckoutURL != "" {
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage(fmt.Sprintf("Para finalizar sua assinatura, acesse o link de pagamento:\n\n%s\n\n"+
					"Apos o pagamento, sua assinatura sera ativada automaticamente.", result.CheckoutURL)),
				wa.ButtonsMessage("Precisa de ajuda?", wa.Btn("menu", "Voltar ao Menu")),
			},
			State: session.InitialState(),
		}, nil
	}

	logger.FLOW.Info("subscription activated",
		"event", "flow.subscription",
		"plan", planKey,
		"user_id", fc.Session.UserID)

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(fmt.Sprintf("*Assinatura Ativada!*\n\nPlano: *%s*\n\n"+
				"Agora voce pode aproveitar todos os beneficios:\n%s\n\n"+
				"Obrigado por assinar o PetVet AI!",
				plan.Name, featureList(plan.Features, ""))),
			wa.ButtonsMessage("O que deseja fazer agora?",
				wa.Btn("new-consultation", "Nova Consulta"),
				wa.Btn("menu", "Menu"),
			),
		},
		State: session.InitialState(),
	}, nil
}

func (s *Subscription) confirmCancellation() *Result {
	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage("*Cancelar Assinatura*\n\n" +
				"Tem certeza que deseja cancelar sua assinatura?\n\n" +
				"Voce perdera acesso a:\n" +
				"- Consultas ilimitadas\n" +
				"- Historico de saude\n" +
				"- Lembretes de vacinacao\n\n" +
				"A assinatura permanecera ativa ate o fim do periodo atual."),
			wa.ButtonsMessage("Confirmar cancelamento?",
				wa.Btn("confirm-cancel", "Sim, Cancelar"),
				wa.Btn("menu", "Nao, Manter"),
			),
		},
		State: s.state("cancel-confirm", session.SubscriptionData{}),
	}
}

func (s *Subscription) handleCancelConfirm(ctx context.Context, fc *Context) (*Result, error) {
	if fc.Content.Type != wa.ContentButton || fc.Content.ButtonID != "confirm-cancel" {
		return &Result{
			Messages: []wa.Outbound{wa.TextMessage("Por favor, confirme o cancelamento ou volte ao menu.")},
			State:    fc.Session.State,
		}, nil
	}

	if err := s.backend.CancelSubscription(ctx, fc.Session.UserID); err != nil {
		logger.FLOW.Error("subscription cancel failed", "event", "flow.subscription", "err", err)
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage("Desculpe, nao consegui cancelar sua assinatura. Por favor, tente novamente."),
				wa.ButtonsMessage("O que deseja fazer?",
					wa.Btn("cancel-subscription", "Tentar Novamente"),
					wa.Btn("menu", "Menu"),
				),
			},
			State: s.state("select-plan", session.SubscriptionData{}),
		}, nil
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage("Sua assinatura foi cancelada e permanecera ativa ate o fim do periodo atual.\n\n" +
				"Sentiremos sua falta! 🐾"),
		},
		State: session.InitialState(),
	}, nil
}

func formatPeriodEnd(raw string) string {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Format("02/01/2006")
	}
	return raw
}
