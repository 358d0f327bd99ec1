package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

// MainMenu greets the user, routes menu buttons and recognizes a few
// free-text intents. The subscription view renders through the subscription
// flow so the button answers immediately instead of waiting for the next
// message.
type MainMenu struct {
	backend      Directory
	binder       Binder
	subscription *Subscription
	now          func() time.Time
}

// NewMainMenu builds the main-menu flow.
func NewMainMenu(deps Deps) *MainMenu {
	return &MainMenu{
		backend:      deps.Backend,
		binder:       deps.Binder,
		subscription: NewSubscription(deps),
		now:          time.Now,
	}
}

func (m *MainMenu) Name() session.FlowName { return session.FlowMainMenu }

func (m *MainMenu) Process(ctx context.Context, fc *Context) (*Result, error) {
	switch {
	case fc.Content.Type == wa.ContentButton && fc.Content.ButtonID != "":
		return m.handleButton(ctx, fc, fc.Content.ButtonID)
	case fc.Content.Type == wa.ContentText && fc.Content.Text != "":
		return m.handleText(ctx, fc, fc.Content.Text)
	default:
		return m.ShowMenu(fc, ""), nil
	}
}

func (m *MainMenu) handleButton(ctx context.Context, fc *Context, buttonID string) (*Result, error) {
	switch buttonID {
	case "new-consultation":
		return &Result{State: session.FlowState{Flow: session.FlowConsultation, Step: "start"}}, nil
	case "my-pets":
		return m.showPetsList(ctx, fc)
	case "health-history":
		return m.showHealthHistory(ctx, fc)
	case "subscription":
		return m.subscription.showCurrent(ctx, fc)
	case "register-pet":
		return &Result{State: session.FlowState{
			Flow:         session.FlowRegistration,
			Step:         "start",
			Registration: &session.RegistrationData{},
		}}, nil
	default:
		return m.ShowMenu(fc, ""), nil
	}
}

func (m *MainMenu) handleText(ctx context.Context, fc *Context, text string) (*Result, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	// Pet picked by number from a previously shown list.
	if fc.Session.State.Step == "pets-list" && fc.Session.State.Menu != nil {
		if res, err := m.handlePetPick(ctx, fc, normalized); res != nil || err != nil {
			return res, err
		}
	}

	switch {
	case strings.Contains(normalized, "consulta"),
		strings.Contains(normalized, "doente"),
		strings.Contains(normalized, "sintoma"):
		return &Result{State: session.FlowState{Flow: session.FlowConsultation, Step: "start"}}, nil

	case strings.Contains(normalized, "pet"),
		strings.Contains(normalized, "cachorro"),
		strings.Contains(normalized, "gato"):
		return m.showPetsList(ctx, fc)

	case strings.Contains(normalized, "historico"),
		strings.Contains(normalized, "registro"):
		return m.showHealthHistory(ctx, fc)
	}

	return m.ShowMenu(fc, ""), nil
}

// handlePetPick resolves a numeric or name choice against the listed pets.
// A nil result means the input did not match and intent matching proceeds.
func (m *MainMenu) handlePetPick(ctx context.Context, fc *Context, input string) (*Result, error) {
	pets := fc.Session.State.Menu.Pets

	var picked *session.PetRef
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(pets) {
		picked = &pets[n-1]
	} else {
		for i := range pets {
			if strings.Contains(strings.ToLower(pets[i].Name), input) {
				picked = &pets[i]
				break
			}
		}
	}
	if picked == nil {
		return nil, nil
	}

	pet, err := m.backend.PetByID(ctx, picked.ID)
	if err != nil {
		return m.ShowMenu(fc, "Desculpe, nao consegui carregar os dados do pet."), nil
	}
	if err := m.binder.SetActivePet(ctx, fc.Session.PhoneNumber, pet.ID); err != nil {
		return nil, err
	}

	details := fmt.Sprintf("%s *%s*\n\nEspecie: %s", speciesEmoji(pet.Species), pet.Name, speciesLabel(pet.Species))
	if pet.Breed != "" {
		details += "\nRaca: " + pet.Breed
	}
	if age := petAge(pet.BirthDate, m.now()); age != "" {
		details += "\nIdade: " + age
	}
	if pet.Weight > 0 {
		details += fmt.Sprintf("\nPeso: %.1f kg", pet.Weight)
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(details),
			wa.ButtonsMessage("O que deseja fazer?",
				wa.Btn("new-consultation", "Nova Consulta"),
				wa.Btn("health-history", "Historico"),
				wa.Btn("menu", "Voltar ao Menu"),
			),
		},
		State: session.FlowState{Flow: session.FlowMainMenu},
	}, nil
}

// ShowMenu renders the three-button main menu, optionally prefixed with a
// status line such as a cancellation notice.
func (m *MainMenu) ShowMenu(fc *Context, prefix string) *Result {
	greeting := "Ola!"
	if fc.Session.ContactName != "" {
		greeting = fmt.Sprintf("Ola, %s!", fc.Session.ContactName)
	}

	text := fmt.Sprintf("%s Sou o PetVet IA, seu veterinario virtual.\n\nComo posso ajudar?", greeting)
	if prefix != "" {
		text = prefix + "\n\n" + text
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.ButtonsMessage(text,
				wa.Btn("new-consultation", "Nova Consulta"),
				wa.Btn("my-pets", "Meus Pets"),
				wa.Btn("health-history", "Historico"),
			),
		},
		State: session.FlowState{Flow: session.FlowMainMenu},
	}
}

// ShowHelp renders the full command reference.
func (m *MainMenu) ShowHelp() *Result {
	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage("*Ajuda - PetVet AI*\n\n" +
				"*Nova Consulta*\n" +
				"Descreva os sintomas do seu pet e receba um diagnostico preliminar com recomendacoes de tratamento.\n\n" +
				"*Meus Pets*\n" +
				"Gerencie os pets cadastrados e veja informacoes de cada um.\n\n" +
				"*Historico*\n" +
				"Acesse o historico de consultas e registros de saude.\n\n" +
				"*Assinatura*\n" +
				"Veja seu plano atual e opcoes de upgrade.\n\n" +
				"Para duvidas, envie um email para suporte@petvet.ai"),
			wa.ButtonsMessage("Voltar ao menu principal?", wa.Btn("menu", "Menu Principal")),
		},
		State: session.FlowState{Flow: session.FlowMainMenu},
	}
}

func (m *MainMenu) showPetsList(ctx context.Context, fc *Context) (*Result, error) {
	if fc.Session.UserID == "" {
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage("Voce ainda nao tem pets cadastrados. Vamos cadastrar seu primeiro pet?"),
				wa.ButtonsMessage("Clique abaixo para comecar:",
					wa.Btn("register-pet", "Cadastrar Pet"),
					wa.Btn("menu", "Voltar ao Menu"),
				),
			},
			State: session.FlowState{
				Flow:         session.FlowRegistration,
				Step:         "start",
				Registration: &session.RegistrationData{},
			},
		}, nil
	}

	pets, err := m.backend.Pets(ctx, fc.Session.UserID)
	if err != nil {
		logger.FLOW.Error("pets lookup failed", "event", "flow.menu", "err", err)
		return m.ShowMenu(fc, "Desculpe, nao consegui carregar seus pets."), nil
	}

	if len(pets) == 0 {
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage("Voce ainda nao tem pets cadastrados."),
				wa.ButtonsMessage("Deseja cadastrar seu primeiro pet?",
					wa.Btn("register-pet", "Cadastrar Pet"),
					wa.Btn("menu", "Voltar ao Menu"),
				),
			},
			State: session.FlowState{Flow: session.FlowMainMenu},
		}, nil
	}

	var b strings.Builder
	refs := make([]session.PetRef, 0, len(pets))
	for i, pet := range pets {
		fmt.Fprintf(&b, "%d. %s *%s*", i+1, speciesEmoji(pet.Species), pet.Name)
		if pet.Breed != "" {
			fmt.Fprintf(&b, " - %s", pet.Breed)
		}
		if age := petAge(pet.BirthDate, m.now()); age != "" {
			fmt.Fprintf(&b, " (%s)", age)
		}
		b.WriteString("\n")
		refs = append(refs, session.PetRef{ID: pet.ID, Name: pet.Name, Species: pet.Species})
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage("*Seus Pets*\n\n" + strings.TrimRight(b.String(), "\n") + "\n\nEnvie o numero do pet para ver detalhes."),
			wa.ButtonsMessage("Ou escolha uma opcao:",
				wa.Btn("register-pet", "Novo Pet"),
				wa.Btn("menu", "Voltar ao Menu"),
			),
		},
		State: session.FlowState{
			Flow: session.FlowMainMenu,
			Step: "pets-list",
			Menu: &session.MenuData{Pets: refs},
		},
	}, nil
}

func (m *MainMenu) showHealthHistory(ctx context.Context, fc *Context) (*Result, error) {
	if fc.Session.UserID == "" {
		return m.ShowMenu(fc, "Para ver o historico, primeiro cadastre seu pet."), nil
	}
	if fc.Session.ActivePetID == "" {
		return m.showPetsList(ctx, fc)
	}

	records, err := m.backend.HealthRecords(ctx, fc.Session.ActivePetID)
	if err != nil {
		logger.FLOW.Error("history lookup failed", "event", "flow.menu", "err", err)
		return m.ShowMenu(fc, "Desculpe, nao consegui carregar o historico."), nil
	}
	pet, err := m.backend.PetByID(ctx, fc.Session.ActivePetID)
	if err != nil {
		logger.FLOW.Error("pet lookup failed", "event", "flow.menu", "err", err)
		return m.ShowMenu(fc, "Desculpe, nao consegui carregar o historico."), nil
	}

	followUp := wa.ButtonsMessage("O que deseja fazer?",
		wa.Btn("new-consultation", "Nova Consulta"),
		wa.Btn("menu", "Voltar ao Menu"),
	)

	if len(records) == 0 {
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage(fmt.Sprintf("*Historico de %s*\n\nNenhum registro de saude encontrado.\n\n"+
					"Inicie uma consulta para comecar a registrar o historico de saude do seu pet.", pet.Name)),
				followUp,
			},
			State: session.FlowState{Flow: session.FlowMainMenu},
		}, nil
	}

	if len(records) > 5 {
		records = records[:5]
	}
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "- *%s*: %s\n", formatRecordDate(rec.Date), rec.Title)
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(fmt.Sprintf("*Historico de %s*\n\nUltimos registros:\n%s", pet.Name, strings.TrimRight(b.String(), "\n"))),
			followUp,
		},
		State: session.FlowState{Flow: session.FlowMainMenu},
	}, nil
}

// petAge renders an approximate age from an ISO birth date. Unknown or
// malformed dates render as empty so callers can skip the line.
func petAge(birthDate string, now time.Time) string {
	birth, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return ""
	}

	years := now.Year() - birth.Year()
	months := int(now.Month()) - int(birth.Month())
	if months < 0 {
		years--
		months += 12
	}

	if years > 0 {
		if years == 1 {
			return "1 ano"
		}
		return fmt.Sprintf("%d anos", years)
	}
	if months > 0 {
		if months == 1 {
			return "1 mes"
		}
		return fmt.Sprintf("%d meses", months)
	}
	return "Filhote"
}

func formatRecordDate(raw string) string {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Format("02/01/2006")
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.Format("02/01/2006")
	}
	return raw
}
