package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/petvet-ai/whatsapp-handler/internal/clients"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

func consState(step string, data session.ConsultationData) session.FlowState {
	return session.FlowState{Flow: session.FlowConsultation, Step: step, Consultation: &data}
}

func TestStartWithoutAccountHandsOffToRegistration(t *testing.T) {
	cons := NewConsultation(testDeps(nil, nil, nil))

	fc := textInput(session.FlowState{Flow: session.FlowConsultation}, "consulta")
	fc.Session.UserID = ""
	res, err := cons.Process(context.Background(), fc)
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Flow != session.FlowRegistration {
		t.Fatalf("state = %+v, want registration", res.State)
	}
	if res.State.Registration == nil || res.State.Registration.ReturnFlow != session.FlowConsultation {
		t.Fatalf("state = %+v, want consultation return recorded", res.State)
	}
}

func TestStartWithSinglePetSkipsSelection(t *testing.T) {
	backend := &fakeBackend{
		pets: func(string) ([]clients.Pet, error) {
			return []clients.Pet{{ID: "pet-1", Name: "Rex", Species: "dog"}}, nil
		},
	}
	cons := NewConsultation(testDeps(backend, nil, nil))

	res, err := cons.Process(context.Background(), textInput(session.FlowState{Flow: session.FlowConsultation}, "consulta"))
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Step != "describe-symptoms" {
		t.Fatalf("state = %+v, want to skip pet selection", res.State)
	}
	if res.State.Consultation.PetID != "pet-1" {
		t.Fatalf("consultation data = %+v", res.State.Consultation)
	}
	if !strings.Contains(firstText(res), "O que Rex esta sentindo?") {
		t.Fatalf("prompt = %q", firstText(res))
	}
}

func TestStartWithSeveralPetsOffersButtons(t *testing.T) {
	backend := &fakeBackend{
		pets: func(string) ([]clients.Pet, error) {
			return []clients.Pet{
				{ID: "pet-1", Name: "Rex", Species: "dog"},
				{ID: "pet-2", Name: "Mimi", Species: "cat"},
				{ID: "pet-3", Name: "Pepe", Species: "bird"},
				{ID: "pet-4", Name: "Tato", Species: "exotic"},
			}, nil
		},
	}
	cons := NewConsultation(testDeps(backend, nil, nil))

	res, err := cons.Process(context.Background(), textInput(session.FlowState{Flow: session.FlowConsultation}, "consulta"))
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Step != "select-pet" {
		t.Fatalf("state = %+v", res.State)
	}
	// WhatsApp caps reply buttons at three; the rest stay reachable by text.
	if ids := buttonIDs(res); len(ids) != 3 || ids[0] != "pet-pet-1" {
		t.Fatalf("buttons = %v", ids)
	}
	if len(res.State.Consultation.Pets) != 4 {
		t.Fatalf("pet refs = %+v, want all four kept", res.State.Consultation.Pets)
	}
}

func TestPetSelectionByNameAndNumber(t *testing.T) {
	cons := NewConsultation(testDeps(nil, nil, nil))
	state := consState("select-pet", session.ConsultationData{Pets: []session.PetRef{
		{ID: "pet-1", Name: "Rex", Species: "dog"},
		{ID: "pet-2", Name: "Mimi", Species: "cat"},
	}})

	res, err := cons.Process(context.Background(), textInput(state, "2"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Consultation.PetID != "pet-2" {
		t.Fatalf("numeric pick: %+v", res.State.Consultation)
	}

	res, err = cons.Process(context.Background(), textInput(state, "mimi"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Consultation.PetID != "pet-2" {
		t.Fatalf("name pick: %+v", res.State.Consultation)
	}

	res, err = cons.Process(context.Background(), textInput(state, "nino"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Step != "select-pet" {
		t.Fatalf("unknown name advanced the flow: %+v", res.State)
	}
}

func diagnosingBackend() *fakeBackend {
	return &fakeBackend{
		startConsultation: func(petID, symptoms string) (*clients.Consultation, error) {
			return &clients.Consultation{ID: "cons-1", PetID: petID, Symptoms: symptoms}, nil
		},
		petByID: func(petID string) (*clients.Pet, error) {
			return &clients.Pet{ID: petID, Name: "Rex", Species: "dog", Weight: 8.5}, nil
		},
	}
}

func TestSymptomsTriggerClarifyingQuestions(t *testing.T) {
	ai := &fakeAI{
		analyze: func(req clients.AnalysisRequest) (*clients.AnalysisResponse, error) {
			return &clients.AnalysisResponse{
				NeedsClarification:  true,
				ClarifyingQuestions: []string{"Ha quanto tempo?", "Come normalmente?"},
			}, nil
		},
	}
	cons := NewConsultation(testDeps(diagnosingBackend(), ai, nil))

	state := consState("describe-symptoms", session.ConsultationData{PetID: "pet-1", PetName: "Rex"})
	res, err := cons.Process(context.Background(), textInput(state, "vomitou tres vezes hoje"))
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Step != "clarifying-questions" {
		t.Fatalf("state = %+v", res.State)
	}
	text := firstText(res)
	if !strings.Contains(text, "1. Ha quanto tempo?") || !strings.Contains(text, "2. Come normalmente?") {
		t.Fatalf("questions = %q", text)
	}
	data := res.State.Consultation
	if data.ConsultationID != "cons-1" || data.Symptoms != "vomitou tres vezes hoje" {
		t.Fatalf("data = %+v", data)
	}
}

func TestClarifyingLoopEndsInDiagnosis(t *testing.T) {
	var gotAnswers []string
	ai := &fakeAI{
		analyze: func(req clients.AnalysisRequest) (*clients.AnalysisResponse, error) {
			gotAnswers = req.ClarifyingAnswers
			return &clients.AnalysisResponse{
				Diagnosis: &clients.Diagnosis{
					Primary:      "Gastrite",
					UrgencyLevel: "medium",
					Differentials: []clients.Differential{
						{Condition: "Gastrite", Probability: 70},
						{Condition: "Indiscricao alimentar", Probability: 25},
					},
				},
			}, nil
		},
	}
	cons := NewConsultation(testDeps(diagnosingBackend(), ai, nil))

	state := consState("clarifying-questions", session.ConsultationData{
		PetID:            "pet-1",
		PetName:          "Rex",
		Symptoms:         "vomito",
		ConsultationID:   "cons-1",
		PendingQuestions: []string{"Ha quanto tempo?", "Come normalmente?"},
		Answers:          []string{"dois dias"},
		QuestionIndex:    1,
	})
	res, err := cons.Process(context.Background(), textInput(state, "sim, come normal"))
	if err != nil {
		t.Fatal(err)
	}

	if len(gotAnswers) != 2 || gotAnswers[1] != "sim, come normal" {
		t.Fatalf("answers sent to analysis = %v", gotAnswers)
	}
	if res.State.Step != "show-diagnosis" {
		t.Fatalf("state = %+v", res.State)
	}
	text := firstText(res)
	if !strings.Contains(text, "🟡 *ANALISE CLINICA - Rex*") {
		t.Fatalf("diagnosis header = %q", text)
	}
	if !strings.Contains(text, "Gastrite (70%)") || !strings.Contains(text, "MEDIUM") {
		t.Fatalf("diagnosis body = %q", text)
	}
}

func TestClarifyingLoopAsksNextQuestion(t *testing.T) {
	cons := NewConsultation(testDeps(diagnosingBackend(), &fakeAI{}, nil))

	state := consState("clarifying-questions", session.ConsultationData{
		PetID:            "pet-1",
		PendingQuestions: []string{"Ha quanto tempo?", "Come normalmente?", "Bebe agua?"},
	})
	res, err := cons.Process(context.Background(), textInput(state, "dois dias"))
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Step != "clarifying-questions" {
		t.Fatalf("state = %+v", res.State)
	}
	if got := firstText(res); got != "2. Come normalmente?" {
		t.Fatalf("next question = %q", got)
	}
	if res.State.Consultation.QuestionIndex != 1 {
		t.Fatalf("data = %+v", res.State.Consultation)
	}
}

func TestTreatmentProtocolRendered(t *testing.T) {
	ai := &fakeAI{
		treatment: func(req clients.TreatmentRequest) (*clients.TreatmentResponse, error) {
			return &clients.TreatmentResponse{
				Medications: []clients.Medication{
					{Name: "Omeprazol", Dosage: "1 mg/kg", Route: "oral", Frequency: "1x ao dia", Duration: "5 dias"},
				},
				SupportiveCare: []string{"Jejum de 12h", "Agua em pequenas quantidades"},
			}, nil
		},
	}
	var recorded *clients.Treatment
	backend := diagnosingBackend()
	backend.updateConsultation = func(id string, in clients.ConsultationUpdate) (*clients.Consultation, error) {
		if in.Treatment != nil {
			recorded = in.Treatment
		}
		return &clients.Consultation{ID: id}, nil
	}
	cons := NewConsultation(testDeps(backend, ai, nil))

	state := consState("show-diagnosis", session.ConsultationData{
		PetID:          "pet-1",
		PetName:        "Rex",
		ConsultationID: "cons-1",
		Diagnosis:      &clients.Diagnosis{Primary: "Gastrite", UrgencyLevel: "medium"},
	})
	res, err := cons.Process(context.Background(), buttonInput(state, "show-treatment"))
	if err != nil {
		t.Fatal(err)
	}

	text := firstText(res)
	if !strings.Contains(text, "PROTOCOLO DE TRATAMENTO") || !strings.Contains(text, "Omeprazol") {
		t.Fatalf("treatment = %q", text)
	}
	if recorded == nil || len(recorded.Medications) != 1 {
		t.Fatalf("treatment not recorded on the consultation: %+v", recorded)
	}
	if res.State.Step != "treatment" {
		t.Fatalf("state = %+v", res.State)
	}
}

func TestPrescriptionDeliveredAsDocument(t *testing.T) {
	backend := diagnosingBackend()
	backend.generatePrescription = func(consultationID string) (string, error) {
		return "https://files.petvet.ai/receita-123.pdf", nil
	}
	cons := NewConsultation(testDeps(backend, &fakeAI{}, nil))

	state := consState("treatment", session.ConsultationData{
		PetID: "pet-1", PetName: "Rex", ConsultationID: "cons-1",
	})
	res, err := cons.Process(context.Background(), buttonInput(state, "get-prescription"))
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Messages) != 2 || res.Messages[0].Type != wa.OutboundDocument {
		t.Fatalf("messages = %+v, want document then text", res.Messages)
	}
	doc := res.Messages[0].Document
	if doc.URL != "https://files.petvet.ai/receita-123.pdf" || !strings.HasPrefix(doc.Filename, "Receita_PetVet_") {
		t.Fatalf("document = %+v", doc)
	}
	if res.State.Flow != session.FlowMainMenu {
		t.Fatalf("state = %+v, want conversation closed", res.State)
	}
}

func TestPrescriptionFailureKeepsRetryOption(t *testing.T) {
	cons := NewConsultation(testDeps(diagnosingBackend(), &fakeAI{}, nil))

	state := consState("treatment", session.ConsultationData{
		PetID: "pet-1", PetName: "Rex", ConsultationID: "cons-1",
	})
	res, err := cons.Process(context.Background(), buttonInput(state, "get-prescription"))
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Step != "treatment" {
		t.Fatalf("state = %+v, want to stay for retry", res.State)
	}
	ids := buttonIDs(res)
	if len(ids) != 2 || ids[0] != "get-prescription" {
		t.Fatalf("buttons = %v", ids)
	}
}
