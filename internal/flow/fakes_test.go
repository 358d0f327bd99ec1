package flow

import (
	"context"

	"github.com/petvet-ai/whatsapp-handler/internal/clients"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

// fakeBackend implements Directory with overridable behavior per method.
// Unset methods return ErrNotFound so flows treat the backend as empty.
type fakeBackend struct {
	createUser           func(phone, name string) (*clients.User, error)
	pets                 func(userID string) ([]clients.Pet, error)
	createPet            func(userID string, in clients.NewPet) (*clients.Pet, error)
	petByID              func(petID string) (*clients.Pet, error)
	startConsultation    func(petID, symptoms string) (*clients.Consultation, error)
	updateConsultation   func(id string, in clients.ConsultationUpdate) (*clients.Consultation, error)
	generatePrescription func(consultationID string) (string, error)
	healthRecords        func(petID string) ([]clients.HealthRecord, error)
	subscriptionFor      func(userID string) (*clients.Subscription, error)
	createSubscription   func(userID, plan string) (*clients.SubscriptionResult, error)
	cancelSubscription   func(userID string) error
}

func (f *fakeBackend) CreateUser(_ context.Context, phone, name string) (*clients.User, error) {
	if f.createUser != nil {
		return f.createUser(phone, name)
	}
	return nil, clients.ErrNotFound
}

func (f *fakeBackend) Pets(_ context.Context, userID string) ([]clients.Pet, error) {
	if f.pets != nil {
		return f.pets(userID)
	}
	return nil, nil
}

func (f *fakeBackend) CreatePet(_ context.Context, userID string, in clients.NewPet) (*clients.Pet, error) {
	if f.createPet != nil {
		return f.createPet(userID, in)
	}
	return nil, clients.ErrNotFound
}

func (f *fakeBackend) PetByID(_ context.Context, petID string) (*clients.Pet, error) {
	if f.petByID != nil {
		return f.petByID(petID)
	}
	return nil, clients.ErrNotFound
}

func (f *fakeBackend) StartConsultation(_ context.Context, petID, symptoms string) (*clients.Consultation, error) {
	if f.startConsultation != nil {
		return f.startConsultation(petID, symptoms)
	}
	return nil, clients.ErrNotFound
}

func (f *fakeBackend) UpdateConsultation(_ context.Context, id string, in clients.ConsultationUpdate) (*clients.Consultation, error) {
	if f.updateConsultation != nil {
		return f.updateConsultation(id, in)
	}
	return &clients.Consultation{ID: id}, nil
}

func (f *fakeBackend) GeneratePrescription(_ context.Context, consultationID string) (string, error) {
	if f.generatePrescription != nil {
		return f.generatePrescription(consultationID)
	}
	return "", clients.ErrNotFound
}

func (f *fakeBackend) HealthRecords(_ context.Context, petID string) ([]clients.HealthRecord, error) {
	if f.healthRecords != nil {
		return f.healthRecords(petID)
	}
	return nil, nil
}

func (f *fakeBackend) SubscriptionFor(_ context.Context, userID string) (*clients.Subscription, error) {
	if f.subscriptionFor != nil {
		return f.subscriptionFor(userID)
	}
	return nil, clients.ErrNotFound
}

func (f *fakeBackend) CreateSubscription(_ context.Context, userID, plan string) (*clients.SubscriptionResult, error) {
	if f.createSubscription != nil {
		return f.createSubscription(userID, plan)
	}
	return &clients.SubscriptionResult{Plan: plan, Status: "active"}, nil
}

func (f *fakeBackend) CancelSubscription(_ context.Context, userID string) error {
	if f.cancelSubscription != nil {
		return f.cancelSubscription(userID)
	}
	return nil
}

type fakeAI struct {
	analyze   func(req clients.AnalysisRequest) (*clients.AnalysisResponse, error)
	treatment func(req clients.TreatmentRequest) (*clients.TreatmentResponse, error)
}

func (f *fakeAI) AnalyzeSymptoms(_ context.Context, req clients.AnalysisRequest) (*clients.AnalysisResponse, error) {
	if f.analyze != nil {
		return f.analyze(req)
	}
	return &clients.AnalysisResponse{}, nil
}

func (f *fakeAI) TreatmentProtocol(_ context.Context, req clients.TreatmentRequest) (*clients.TreatmentResponse, error) {
	if f.treatment != nil {
		return f.treatment(req)
	}
	return &clients.TreatmentResponse{}, nil
}

type fakeBinder struct {
	linkedUser string
	activePet  string
}

func (f *fakeBinder) SetLinkedUser(_ context.Context, _, userID string) error {
	f.linkedUser = userID
	return nil
}

func (f *fakeBinder) SetActivePet(_ context.Context, _, petID string) error {
	f.activePet = petID
	return nil
}

func testDeps(backend *fakeBackend, ai *fakeAI, binder *fakeBinder) Deps {
	if backend == nil {
		backend = &fakeBackend{}
	}
	if ai == nil {
		ai = &fakeAI{}
	}
	if binder == nil {
		binder = &fakeBinder{}
	}
	return Deps{Backend: backend, AI: ai, Binder: binder}
}

func testSession(state session.FlowState) *session.Session {
	return &session.Session{
		ID:          "sess-1",
		PhoneNumber: "5511999990000",
		UserID:      "user-1",
		ContactName: "Maria",
		State:       state,
	}
}

func textInput(state session.FlowState, text string) *Context {
	return &Context{
		Session:   testSession(state),
		Content:   wa.Content{Type: wa.ContentText, Text: text},
		MessageID: "wamid.test",
	}
}

func buttonInput(state session.FlowState, buttonID string) *Context {
	return &Context{
		Session:   testSession(state),
		Content:   wa.Content{Type: wa.ContentButton, ButtonID: buttonID},
		MessageID: "wamid.test",
	}
}

func firstText(r *Result) string {
	for _, m := range r.Messages {
		if m.Type == wa.OutboundText {
			return m.Text
		}
	}
	return ""
}

func buttonIDs(r *Result) []string {
	var ids []string
	for _, m := range r.Messages {
		if m.Type != wa.OutboundInteractive || m.Interactive == nil {
			continue
		}
		for _, b := range m.Interactive.Action.Buttons {
			ids = append(ids, b.Reply.ID)
		}
	}
	return ids
}
