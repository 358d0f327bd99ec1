// Package session tracks per-sender conversation state with a sliding TTL.
package session

import "github.com/petvet-ai/whatsapp-handler/internal/clients"

// FlowName identifies one conversation flow.
type FlowName string

// The flows the engine knows about.
const (
	FlowMainMenu     FlowName = "main-menu"
	FlowConsultation FlowName = "consultation"
	FlowRegistration FlowName = "pet-registration"
	FlowSubscription FlowName = "subscription"
)

// FlowState is the position of a conversation: which flow, which step, and
// the flow's accumulated data. At most one of the data pointers is set,
// matching Flow.
type FlowState struct {
	Flow FlowName `json:"flow"`
	Step string   `json:"step,omitempty"`

	Menu         *MenuData         `json:"menu,omitempty"`
	Registration *RegistrationData `json:"registration,omitempty"`
	Consultation *ConsultationData `json:"consultation,omitempty"`
	Subscription *SubscriptionData `json:"subscription,omitempty"`
}

// InitialState is where every new conversation starts.
func InitialState() FlowState {
	return FlowState{Flow: FlowMainMenu}
}

// PetRef is the slice of a pet the flows carry between steps.
type PetRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Species string `json:"species,omitempty"`
}

// MenuData carries main-menu step data.
type MenuData struct {
	Pets []PetRef `json:"pets,omitempty"`
}

// PetDraft accumulates answers during pet registration. BirthDate is an
// ISO date approximated from the informed age; it stays blank when the
// owner does not know it.
type PetDraft struct {
	Name      string  `json:"name,omitempty"`
	Species   string  `json:"species,omitempty"`
	Breed     string  `json:"breed,omitempty"`
	BirthDate string  `json:"birthDate,omitempty"`
	Sex       string  `json:"sex,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
}

// RegistrationData carries pet-registration step data. ReturnFlow, when set,
// is where the conversation resumes after the pet is saved.
type RegistrationData struct {
	Pet        PetDraft `json:"pet"`
	ReturnFlow FlowName `json:"returnFlow,omitempty"`
	ReturnPlan string   `json:"returnPlan,omitempty"`
}

// ConsultationData carries consultation step data.
type ConsultationData struct {
	Pets             []PetRef           `json:"pets,omitempty"`
	PetID            string             `json:"petId,omitempty"`
	PetName          string             `json:"petName,omitempty"`
	Symptoms         string             `json:"symptoms,omitempty"`
	ConsultationID   string             `json:"consultationId,omitempty"`
	PendingQuestions []string           `json:"pendingQuestions,omitempty"`
	Answers          []string           `json:"answers,omitempty"`
	QuestionIndex    int                `json:"questionIndex,omitempty"`
	Diagnosis        *clients.Diagnosis `json:"diagnosis,omitempty"`
}

// SubscriptionData carries subscription step data.
type SubscriptionData struct {
	SelectedPlan string `json:"selectedPlan,omitempty"`
}
