package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/clients"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

// Consultation runs a triage session: pick a pet, describe symptoms, answer
// the AI's clarifying questions, then receive a diagnosis, treatment
// protocol and prescription.
type Consultation struct {
	backend Directory
	ai      Diagnoser
	now     func() time.Time
}

// NewConsultation builds the consultation flow.
func NewConsultation(deps Deps) *Consultation {
	return &Consultation{backend: deps.Backend, ai: deps.AI, now: time.Now}
}

func (c *Consultation) Name() session.FlowName { return session.FlowConsultation }

func (c *Consultation) Process(ctx context.Context, fc *Context) (*Result, error) {
	state := fc.Session.State
	if state.Consultation == nil {
		state.Consultation = &session.ConsultationData{}
	}
	data := *state.Consultation

	switch state.Step {
	case "", "start":
		return c.start(ctx, fc)
	case "select-pet":
		return c.handlePetSelection(ctx, fc, data)
	case "describe-symptoms":
		return c.handleSymptoms(ctx, fc, data)
	case "clarifying-questions":
		return c.handleClarifyingAnswer(ctx, fc, data)
	case "show-diagnosis":
		return c.handleDiagnosisResponse(ctx, fc, data)
	case "treatment":
		return c.handleTreatmentResponse(ctx, fc, data)
	case "prescription":
		return &Result{State: session.InitialState()}, nil
	default:
		return c.start(ctx, fc)
	}
}

func (c *Consultation) stay(fc *Context, prompt string) *Result {
	return &Result{
		Messages: []wa.Outbound{wa.TextMessage(prompt)},
		State:    fc.Session.State,
	}
}

func (c *Consultation) state(step string, data session.ConsultationData) session.FlowState {
	return session.FlowState{
		Flow:         session.FlowConsultation,
		Step:         step,
		Consultation: &data,
	}
}

func (c *Consultation) start(ctx context.Context, fc *Context) (*Result, error) {
	toRegistration := session.FlowState{
		Flow:         session.FlowRegistration,
		Step:         "start",
		Registration: &session.RegistrationData{ReturnFlow: session.FlowConsultation},
	}

	if fc.Session.UserID == "" {
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage("Para iniciar uma consulta, primeiro precisamos cadastrar seu pet."),
			},
			State: toRegistration,
		}, nil
	}

	pets, err := c.backend.Pets(ctx, fc.Session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list pets: %w", err)
	}

	if len(pets) == 0 {
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage("Voce ainda nao tem nenhum pet cadastrado. Vamos cadastrar agora?"),
				wa.ButtonsMessage("Para fazer uma consulta, primeiro precisamos conhecer seu pet.",
					wa.Btn("register-pet", "Cadastrar Pet"),
					wa.Btn("menu", "Menu"),
				),
			},
			State: toRegistration,
		}, nil
	}

	// A single pet needs no selection step.
	if len(pets) == 1 {
		return c.askForSymptoms(session.PetRef{ID: pets[0].ID, Name: pets[0].Name, Species: pets[0].Species}), nil
	}

	refs := make([]session.PetRef, 0, len(pets))
	var buttons []wa.ReplyButton
	for i, pet := range pets {
		refs = append(refs, session.PetRef{ID: pet.ID, Name: pet.Name, Species: pet.Species})
		if i < 3 {
			buttons = append(buttons, wa.Btn("pet-"+pet.ID, speciesEmoji(pet.Species)+" "+pet.Name))
		}
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.ButtonsMessage("Para qual pet e a consulta?", buttons...),
		},
		State: c.state("select-pet", session.ConsultationData{Pets: refs}),
	}, nil
}

func (c *Consultation) handlePetSelection(ctx context.Context, fc *Context, data session.ConsultationData) (*Result, error) {
	if fc.Content.Type == wa.ContentButton && strings.HasPrefix(fc.Content.ButtonID, "pet-") {
		petID := strings.TrimPrefix(fc.Content.ButtonID, "pet-")
		for _, ref := range data.Pets {
			if ref.ID == petID {
				return c.askForSymptoms(ref), nil
			}
		}
	}

	if fc.Content.Type == wa.ContentText && fc.Content.Text != "" {
		input := strings.ToLower(strings.TrimSpace(fc.Content.Text))
		if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(data.Pets) {
			return c.askForSymptoms(data.Pets[n-1]), nil
		}
		for _, ref := range data.Pets {
			if strings.Contains(strings.ToLower(ref.Name), input) {
				return c.askForSymptoms(ref), nil
			}
		}
	}

	return c.stay(fc, "Por favor, selecione um pet da lista ou digite o nome."), nil
}

func (c *Consultation) askForSymptoms(pet session.PetRef) *Result {
	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(fmt.Sprintf("O que %s esta sentindo? Descreva os sintomas com o maximo de detalhes possivel.\n\n"+
				"Dica: Mencione ha quanto tempo, frequencia e intensidade dos sintomas.", pet.Name)),
		},
		State: c.state("describe-symptoms", session.ConsultationData{
			PetID:   pet.ID,
			PetName: pet.Name,
		}),
	}
}

func (c *Consultation) petInfoFor(pet *clients.Pet) *clients.PetInfo {
	return &clients.PetInfo{
		Species:  pet.Species,
		Breed:    pet.Breed,
		AgeYears: ageInYears(pet.BirthDate, c.now()),
		Weight:   pet.Weight,
		Sex:      pet.Sex,
		Neutered: pet.Neutered,
	}
}

// ageInYears derives a fractional age from an ISO birth date for the AI
// payload. Zero means unknown.
func ageInYears(birthDate string, now time.Time) float64 {
	birth, err := time.Parse("2006-01-02", birthDate)
	if err != nil || birth.After(now) {
		return 0
	}
	return now.Sub(birth).Hours() / (24 * 365.25)
}

func (c *Consultation) handleSymptoms(ctx context.Context, fc *Context, data session.ConsultationData) (*Result, error) {
	if fc.Content.Type != wa.ContentText || fc.Content.Text == "" {
		return c.stay(fc, "Por favor, descreva os sintomas em texto. Voce tambem pode enviar fotos depois."), nil
	}

	symptoms := fc.Content.Text

	consultation, err := c.backend.StartConsultation(ctx, data.PetID, symptoms)
	if err != nil {
		return nil, fmt.Errorf("start consultation: %w", err)
	}
	logger.FLOW.Info("consultation started",
		"event", "flow.consultation",
		"consultation_id", consultation.ID,
		"pet_id", data.PetID)

	pet, err := c.backend.PetByID(ctx, data.PetID)
	if err != nil {
		return nil, fmt.Errorf("load pet: %w", err)
	}
	analysis, err := c.ai.AnalyzeSymptoms(ctx, clients.AnalysisRequest{
		Symptoms:       symptoms,
		PetID:          data.PetID,
		ConsultationID: consultation.ID,
		PetInfo:        c.petInfoFor(pet),
	})
	if err != nil {
		return nil, fmt.Errorf("analyze symptoms: %w", err)
	}

	data.Symptoms = symptoms
	data.ConsultationID = consultation.ID

	if analysis.NeedsClarification && len(analysis.ClarifyingQuestions) > 0 {
		var b strings.Builder
		for i, q := range analysis.ClarifyingQuestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
		data.PendingQuestions = analysis.ClarifyingQuestions
		data.Answers = nil
		data.QuestionIndex = 0

		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage(fmt.Sprintf("Entendi. Para um diagnostico mais preciso, preciso de algumas informacoes:\n\n%s\n\nResponda cada pergunta separadamente.",
					strings.TrimRight(b.String(), "\n"))),
			},
			State: c.state("clarifying-questions", data),
		}, nil
	}

	return c.showDiagnosis(ctx, data, analysis.Diagnosis)
}

func (c *Consultation) handleClarifyingAnswer(ctx context.Context, fc *Context, data session.ConsultationData) (*Result, error) {
	if fc.Content.Type != wa.ContentText || fc.Content.Text == "" {
		return c.stay(fc, "Por favor, responda em texto."), nil
	}

	data.Answers = append(data.Answers, fc.Content.Text)
	data.QuestionIndex++

	if data.QuestionIndex < len(data.PendingQuestions) {
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage(fmt.Sprintf("%d. %s", data.QuestionIndex+1, data.PendingQuestions[data.QuestionIndex])),
			},
			State: c.state("clarifying-questions", data),
		}, nil
	}

	pet, err := c.backend.PetByID(ctx, data.PetID)
	if err != nil {
		return nil, fmt.Errorf("load pet: %w", err)
	}
	analysis, err := c.ai.AnalyzeSymptoms(ctx, clients.AnalysisRequest{
		Symptoms:          data.Symptoms,
		PetID:             data.PetID,
		ConsultationID:    data.ConsultationID,
		PetInfo:           c.petInfoFor(pet),
		ClarifyingAnswers: data.Answers,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze symptoms: %w", err)
	}

	return c.showDiagnosis(ctx, data, analysis.Diagnosis)
}

func urgencyEmoji(level string) string {
	switch level {
	case "low":
		return "🟢"
	case "medium":
		return "🟡"
	case "high":
		return "🟠"
	case "emergency":
		return "🔴"
	default:
		return "⚪"
	}
}

func (c *Consultation) showDiagnosis(ctx context.Context, data session.ConsultationData, diagnosis *clients.Diagnosis) (*Result, error) {
	if diagnosis == nil {
		return nil, fmt.Errorf("analysis returned no diagnosis for consultation %s", data.ConsultationID)
	}

	var b strings.Builder
	for i, d := range diagnosis.Differentials {
		fmt.Fprintf(&b, "%d. %s (%.0f%%)\n", i+1, d.Condition, d.Probability)
	}

	text := fmt.Sprintf("%s *ANALISE CLINICA - %s*\n\n"+
		"*Diagnosticos Diferenciais:*\n%s\n"+
		"*Diagnostico Mais Provavel:*\n%s\n\n"+
		"*Nivel de Urgencia:* %s",
		urgencyEmoji(diagnosis.UrgencyLevel), data.PetName,
		strings.TrimRight(b.String(), "\n"),
		diagnosis.Primary,
		strings.ToUpper(diagnosis.UrgencyLevel))

	if _, err := c.backend.UpdateConsultation(ctx, data.ConsultationID, clients.ConsultationUpdate{
		Diagnosis:    diagnosis,
		UrgencyLevel: diagnosis.UrgencyLevel,
	}); err != nil {
		return nil, fmt.Errorf("record diagnosis: %w", err)
	}

	data.Diagnosis = diagnosis
	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(text),
			wa.ButtonsMessage("O que voce gostaria de fazer?",
				wa.Btn("show-treatment", "Ver Tratamento"),
				wa.Btn("get-prescription", "Gerar Receita"),
				wa.Btn("menu", "Menu"),
			),
		},
		State: c.state("show-diagnosis", data),
	}, nil
}

func (c *Consultation) handleDiagnosisResponse(ctx context.Context, fc *Context, data session.ConsultationData) (*Result, error) {
	if fc.Content.Type == wa.ContentButton {
		switch fc.Content.ButtonID {
		case "show-treatment":
			return c.showTreatment(ctx, data)
		case "get-prescription":
			return c.sendPrescription(ctx, fc, data)
		}
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.ButtonsMessage("Por favor, selecione uma opcao:",
				wa.Btn("show-treatment", "Ver Tratamento"),
				wa.Btn("get-prescription", "Gerar Receita"),
				wa.Btn("menu", "Menu"),
			),
		},
		State: fc.Session.State,
	}, nil
}

func (c *Consultation) showTreatment(ctx context.Context, data session.ConsultationData) (*Result, error) {
	pet, err := c.backend.PetByID(ctx, data.PetID)
	if err != nil {
		return nil, fmt.Errorf("load pet: %w", err)
	}
	treatment, err := c.ai.TreatmentProtocol(ctx, clients.TreatmentRequest{
		ConsultationID: data.ConsultationID,
		Diagnosis:      data.Diagnosis,
		PetInfo: &clients.PetInfo{
			Species: pet.Species,
			Weight:  pet.Weight,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("treatment protocol: %w", err)
	}

	var meds strings.Builder
	for i, med := range treatment.Medications {
		if i > 0 {
			meds.WriteString("\n\n")
		}
		fmt.Fprintf(&meds, "- *%s*\n  Dose: %s\n  Via: %s\n  Frequencia: %s\n  Duracao: %s",
			med.Name, med.Dosage, med.Route, med.Frequency, med.Duration)
	}
	var care strings.Builder
	for i, item := range treatment.SupportiveCare {
		if i > 0 {
			care.WriteString("\n")
		}
		fmt.Fprintf(&care, "- %s", item)
	}

	text := fmt.Sprintf("*PROTOCOLO DE TRATAMENTO*\n\n"+
		"*Medicacoes:*\n%s\n\n"+
		"*Cuidados de Suporte:*\n%s\n\n"+
		"*Monitoramento:*\n"+
		"Se nao houver melhora em 48-72h, procure um veterinario presencial.",
		meds.String(), care.String())

	if _, err := c.backend.UpdateConsultation(ctx, data.ConsultationID, clients.ConsultationUpdate{
		Treatment: &clients.Treatment{
			Medications:    treatment.Medications,
			SupportiveCare: treatment.SupportiveCare,
			FollowUp:       treatment.FollowUp,
		},
	}); err != nil {
		return nil, fmt.Errorf("record treatment: %w", err)
	}

	return &Result{
		Messages: []wa.Outbound{
			wa.TextMessage(text),
			wa.ButtonsMessage("Deseja receber a receita em PDF?",
				wa.Btn("get-prescription", "Sim, enviar receita"),
				wa.Btn("menu", "Finalizar"),
			),
		},
		State: c.state("treatment", data),
	}, nil
}

func (c *Consultation) handleTreatmentResponse(ctx context.Context, fc *Context, data session.ConsultationData) (*Result, error) {
	if fc.Content.Type == wa.ContentButton && fc.Content.ButtonID == "get-prescription" {
		return c.sendPrescription(ctx, fc, data)
	}
	return &Result{State: session.InitialState()}, nil
}

func (c *Consultation) sendPrescription(ctx context.Context, fc *Context, data session.ConsultationData) (*Result, error) {
	prescriptionURL, err := c.backend.GeneratePrescription(ctx, data.ConsultationID)
	if err != nil {
		logger.FLOW.Error("prescription failed",
			"event", "flow.consultation",
			"consultation_id", data.ConsultationID,
			"err", err)
		return &Result{
			Messages: []wa.Outbound{
				wa.TextMessage("Desculpe, nao consegui gerar a receita. Por favor, tente novamente."),
				wa.ButtonsMessage("O que deseja fazer?",
					wa.Btn("get-prescription", "Tentar Novamente"),
					wa.Btn("menu", "Voltar ao Menu"),
				),
			},
			State: fc.Session.State,
		}, nil
	}

	filename := fmt.Sprintf("Receita_PetVet_%s.pdf", time.Now().Format("2006-01-02"))
	return &Result{
		Messages: []wa.Outbound{
			wa.DocumentMessage(prescriptionURL, filename, "Receita Veterinaria - PetVet AI"),
			wa.TextMessage(fmt.Sprintf("Receita enviada!\n\n"+
				"Esta consulta foi salva no historico de saude de %s.\n\n"+
				"Vou te lembrar sobre os medicamentos nos horarios corretos.\n\n"+
				"Melhoras para o seu pet! 🐾", data.PetName)),
		},
		State: session.InitialState(),
	}, nil
}
