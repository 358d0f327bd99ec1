package flow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/clients"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

var (
	ageYearsRe  = regexp.MustCompile(`(\d+)\s*(ano|anos)`)
	ageMonthsRe = regexp.MustCompile(`(\d+)\s*(mes|meses)`)
)

// Registration walks the user through registering a pet: name, species,
// breed, age, sex, weight, then a confirmation. When the flow was entered
// from a consultation or subscription, it hands back after saving.
type Registration struct {
	backend Directory
	binder  Binder
	now     func() time.Time
}

// NewRegistration builds the pet-registration flow.
func NewRegistration(deps Deps) *Registration {
	return &Registration{backend: deps.Backend, binder: deps.Binder, now: time.Now}
}

func (r *Registration) Name() session.FlowName { return session.FlowRegistration }

func (r *Registration) Process(ctx context.Context, fc *Context) (*Result, error) {
	state := fc.Session.State
	if state.Registration == nil {
		state.Registration = &session.RegistrationData{}
	}
	data := *state.Registration

	switch state.Step {
	case "", "start":
		return r.askName(data), nil
	case "name":
		return r.handleName(fc, data), nil
	case "species":
		return r.handleSpecies(fc, data), nil
	case "breed":
		return r.handleBreed(fc, data), nil
	case "age":
		return r.handleAge(fc, data), nil
	case "sex":
		return r.handleSex(fc, data), nil
	case "weight":
		return r.handleWeight(fc, data), nil
	case "confirm":
		return r.handleConfirm(ctx, fc, data)
	default:
		return r.askName(data), nil
	}
}

func (r *Registration) stay(fc *Context, prompt string) *Result {
	return &Result{
		Messages: []wa.Outbound{wa.TextMessage(prompt)},
		State:    fc.Session.State,
	}
}

func (r *Registration) state(step string, data session.RegistrationData) session.FlowState {
	return session.FlowState{
		Flow:         session.FlowRegistration,
		Step:         step,
		Registration: &data,
	}
}

func (r *Registration) askName(data session.RegistrationData) *Result {
	data.Pet = session.PetDraft{}
	return &Result{
		Messages: []wa.Outbound{wa.TextMessage("Vamos cadastrar seu pet! Qual e o nome dele?")},
		State:    r.state("name", data),
	}
}

func (r *Registration) handleName(fc *Context, data session.RegistrationData) *Result {
	if fc.Content.Type != wa.ContentText || fc.Content.Text == "" {
		return r.stay(fc, "Por favor, digite o nome do seu pet.")
	}

	name := strings.TrimSpace(fc.Content.Text)
	if len(name) < 2 || len(name) > 50 {
		return r.stay(fc, "O nome deve ter entre 2 e 50 caracteres. Tente novamente.")
	}

	data.Pet.Name = name
	return &Result{
		Messages: []wa.Outbound{
			wa.ButtonsMessage(fmt.Sprintf("%s, que nome lindo! Qual e a especie?", name),
				wa.Btn("dog", "Cachorro"),
				wa.Btn("cat", "Gato"),
				wa.Btn("other", "Outro"),
			),
		},
		State: r.state("species", data),
	}
}

func (r *Registration) handleSpecies(fc *Context, data session.RegistrationData) *Result {
	var species string
	if fc.Content.Type == wa.ContentButton {
		switch fc.Content.ButtonID {
		case "dog", "cat", "bird", "exotic":
			species = fc.Content.ButtonID
		case "other":
			return &Result{
				Messages: []wa.Outbound{
					wa.ButtonsMessage("Qual tipo de animal?",
						wa.Btn("bird", "Ave"),
						wa.Btn("exotic", "Exotico"),
					),
				},
				State: fc.Session.State,
			}
		}
	}
	if species == "" {
		return r.stay(fc, "Por favor, selecione a especie do seu pet.")
	}

	var breedQuestion string
	switch species {
	case "dog":
		breedQuestion = `Qual a raca do cachorro? (ou digite "vira-lata" se nao souber)`
	case "cat":
		breedQuestion = `Qual a raca do gato? (ou digite "SRD" se nao souber)`
	default:
		breedQuestion = "Qual a especie especifica? (ex: papagaio, hamster)"
	}

	data.Pet.Species = species
	return &Result{
		Messages: []wa.Outbound{wa.TextMessage(breedQuestion)},
		State:    r.state("breed", data),
	}
}

func (r *Registration) handleBreed(fc *Context, data session.RegistrationData) *Result {
	if fc.Content.Type != wa.ContentText || fc.Content.Text == "" {
		return r.stay(fc, "Por favor, digite a raca ou especie.")
	}

	data.Pet.Breed = strings.TrimSpace(fc.Content.Text)
	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(fmt.Sprintf("Qual a idade aproximada de %s?\n\nExemplos: \"2 anos\", \"6 meses\", \"nao sei\"", data.Pet.Name)),
		},
		State: r.state("age", data),
	}
}

func (r *Registration) handleAge(fc *Context, data session.RegistrationData) *Result {
	if fc.Content.Type != wa.ContentText || fc.Content.Text == "" {
		return r.stay(fc, "Por favor, informe a idade.")
	}

	data.Pet.BirthDate = birthDateFromAge(fc.Content.Text, r.now())
	return &Result{
		Messages: []wa.Outbound{
			wa.ButtonsMessage(fmt.Sprintf("%s e macho ou femea?", data.Pet.Name),
				wa.Btn("male", "Macho"),
				wa.Btn("female", "Femea"),
			),
		},
		State: r.state("sex", data),
	}
}

// birthDateFromAge converts a free-text age ("2 anos", "6 meses") into an
// approximate ISO birth date. Unparsable answers ("nao sei") leave it blank.
func birthDateFromAge(text string, now time.Time) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if m := ageYearsRe.FindStringSubmatch(normalized); m != nil {
		years, _ := strconv.Atoi(m[1])
		return time.Date(now.Year()-years, now.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
	}
	if m := ageMonthsRe.FindStringSubmatch(normalized); m != nil {
		months, _ := strconv.Atoi(m[1])
		return now.AddDate(0, -months, 0).Format("2006-01-02")
	}
	return ""
}

func (r *Registration) handleSex(fc *Context, data session.RegistrationData) *Result {
	var sex string
	if fc.Content.Type == wa.ContentButton {
		switch fc.Content.ButtonID {
		case "male", "female":
			sex = fc.Content.ButtonID
		}
	}
	if sex == "" {
		return r.stay(fc, "Por favor, selecione macho ou femea.")
	}

	data.Pet.Sex = sex
	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(fmt.Sprintf("Qual o peso aproximado de %s em kg?\n\nExemplo: \"8.5\" ou \"nao sei\"", data.Pet.Name)),
		},
		State: r.state("weight", data),
	}
}

func (r *Registration) handleWeight(fc *Context, data session.RegistrationData) *Result {
	if fc.Content.Type != wa.ContentText || fc.Content.Text == "" {
		return r.stay(fc, "Por favor, informe o peso.")
	}

	weightText := strings.ToLower(strings.TrimSpace(fc.Content.Text))
	if parsed, err := strconv.ParseFloat(strings.ReplaceAll(weightText, ",", "."), 64); err == nil && parsed > 0 && parsed < 500 {
		data.Pet.Weight = parsed
	}

	pet := data.Pet
	sexLabel := "Femea"
	if pet.Sex == "male" {
		sexLabel = "Macho"
	}
	breed := pet.Breed
	if breed == "" {
		breed = "Nao informado"
	}
	weight := "Nao informado"
	if pet.Weight > 0 {
		weight = fmt.Sprintf("%g kg", pet.Weight)
	}

	confirmText := fmt.Sprintf("*Confirme os dados de %s:*\n\n"+
		"Especie: %s\n"+
		"Raca: %s\n"+
		"Sexo: %s\n"+
		"Peso: %s\n\n"+
		"Os dados estao corretos?",
		pet.Name, speciesLabel(pet.Species), breed, sexLabel, weight)

	return &Result{
		Messages: []wa.Outbound{
			wa.ButtonsMessage(confirmText,
				wa.Btn("confirm", "Sim, confirmar"),
				wa.Btn("restart", "Corrigir dados"),
			),
		},
		State: r.state("confirm", data),
	}
}

func (r *Registration) handleConfirm(ctx context.Context, fc *Context, data session.RegistrationData) (*Result, error) {
	if fc.Content.Type == wa.ContentButton && fc.Content.ButtonID == "restart" {
		return r.askName(data), nil
	}
	if fc.Content.Type != wa.ContentButton || fc.Content.ButtonID != "confirm" {
		return r.stay(fc, "Por favor, confirme ou corrija os dados."), nil
	}

	userID := fc.Session.UserID
	if userID == "" {
		user, err := r.backend.CreateUser(ctx, fc.Session.PhoneNumber, fc.Session.ContactName)
		if err != nil {
			return r.saveFailed(fc), nil
		}
		userID = user.ID
		if err := r.binder.SetLinkedUser(ctx, fc.Session.PhoneNumber, userID); err != nil {
			return nil, err
		}
		logger.FLOW.Info("user created", "event", "flow.registration", "user_id", userID)
	}

	pet, err := r.backend.CreatePet(ctx, userID, clients.NewPet{
		Name:      data.Pet.Name,
		Species:   data.Pet.Species,
		Breed:     data.Pet.Breed,
		BirthDate: data.Pet.BirthDate,
		Sex:       data.Pet.Sex,
		Weight:    data.Pet.Weight,
	})
	if err != nil {
		logger.FLOW.Error("pet creation failed", "event", "flow.registration", "err", err)
		return r.saveFailed(fc), nil
	}
	logger.FLOW.Info("pet created", "event", "flow.registration", "pet_id", pet.ID, "user_id", userID)

	if err := r.binder.SetActivePet(ctx, fc.Session.PhoneNumber, pet.ID); err != nil {
		return nil, err
	}

	switch data.ReturnFlow {
	case session.FlowConsultation:
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage(fmt.Sprintf("%s foi cadastrado com sucesso! 🎉\n\nAgora vamos iniciar a consulta.", pet.Name)),
			},
			State: session.FlowState{Flow: session.FlowConsultation, Step: "start"},
		}, nil

	case session.FlowSubscription:
		if data.ReturnPlan != "" {
			return &Result{
				Messages: []wa.Outbound{
					wa.TextMessage(fmt.Sprintf("%s foi cadastrado com sucesso! 🎉\n\nAgora vamos finalizar sua assinatura.", pet.Name)),
					wa.ButtonsMessage("Deseja confirmar esta assinatura?",
						wa.Btn("confirm-subscription", "Confirmar"),
						wa.Btn("change-plan", "Mudar Plano"),
						wa.Btn("menu", "Cancelar"),
					),
				},
				State: session.FlowState{
					Flow:         session.FlowSubscription,
					Step:         "confirm",
					Subscription: &session.SubscriptionData{SelectedPlan: data.ReturnPlan},
				},
			}, nil
		}
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage(fmt.Sprintf("%s foi cadastrado com sucesso! 🎉", pet.Name)),
			},
			State: session.FlowState{Flow: session.FlowSubscription, Step: "view"},
		}, nil
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(fmt.Sprintf("%s foi cadastrado com sucesso! 🎉\n\n"+
				"Agora voce pode fazer consultas e acompanhar a saude do seu pet.", pet.Name)),
			wa.ButtonsMessage("O que deseja fazer agora?",
				wa.Btn("new-consultation", "Nova Consulta"),
				wa.Btn("menu", "Menu Principal"),
			),
		},
		State: session.FlowState{Flow: session.FlowMainMenu},
	}, nil
}

func (r *Registration) saveFailed(fc *Context) *Result {
	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage("Desculpe, ocorreu um erro ao cadastrar o pet. Por favor, tente novamente."),
			wa.ButtonsMessage("Tentar novamente?",
				wa.Btn("restart", "Sim"),
				wa.Btn("menu", "Voltar ao Menu"),
			),
		},
		State: fc.Session.State,
	}
}
