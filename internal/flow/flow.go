// Package flow implements the conversation state machines: main menu, pet
// registration, consultation and subscription. The engine owns a closed set
// of flows; a message is routed to the flow recorded in the sender's session
// state, after global commands get a chance to intercept it.
package flow

import (
	"context"

	"github.com/petvet-ai/whatsapp-handler/internal/clients"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

// Context is one inbound message plus the sender's session.
type Context struct {
	Session   *session.Session
	Content   wa.Content
	MessageID string
}

// Result is what a flow produced: the replies to deliver, in order, and the
// state the session moves to.
type Result struct {
	Messages []wa.Outbound
	State    session.FlowState
}

// Flow is one conversation state machine. The engine's flow set is fixed at
// construction; flows are addressed only through this interface.
type Flow interface {
	Name() session.FlowName
	Process(ctx context.Context, fc *Context) (*Result, error)
}

// Directory is the slice of the platform API the flows consume.
type Directory interface {
	CreateUser(ctx context.Context, phone, name string) (*clients.User, error)
	Pets(ctx context.Context, userID string) ([]clients.Pet, error)
	CreatePet(ctx context.Context, userID string, in clients.NewPet) (*clients.Pet, error)
	PetByID(ctx context.Context, petID string) (*clients.Pet, error)
	StartConsultation(ctx context.Context, petID, symptoms string) (*clients.Consultation, error)
	UpdateConsultation(ctx context.Context, id string, in clients.ConsultationUpdate) (*clients.Consultation, error)
	GeneratePrescription(ctx context.Context, consultationID string) (string, error)
	HealthRecords(ctx context.Context, petID string) ([]clients.HealthRecord, error)
	SubscriptionFor(ctx context.Context, userID string) (*clients.Subscription, error)
	CreateSubscription(ctx context.Context, userID, plan string) (*clients.SubscriptionResult, error)
	CancelSubscription(ctx context.Context, userID string) error
}

// Diagnoser is the slice of the AI service the flows consume.
type Diagnoser interface {
	AnalyzeSymptoms(ctx context.Context, req clients.AnalysisRequest) (*clients.AnalysisResponse, error)
	TreatmentProtocol(ctx context.Context, req clients.TreatmentRequest) (*clients.TreatmentResponse, error)
}

// Binder records session-level bindings the flows establish mid-conversation.
type Binder interface {
	SetLinkedUser(ctx context.Context, phoneNumber, userID string) error
	SetActivePet(ctx context.Context, phoneNumber, petID string) error
}

// Deps wires the flows to their collaborators.
type Deps struct {
	Backend Directory
	AI      Diagnoser
	Binder  Binder
}

func speciesEmoji(species string) string {
	switch species {
	case "dog":
		return "🐕"
	case "cat":
		return "🐈"
	case "bird":
		return "🐦"
	case "exotic":
		return "🦎"
	default:
		return "🐾"
	}
}

func speciesLabel(species string) string {
	switch species {
	case "dog":
		return "Cachorro"
	case "cat":
		return "Gato"
	case "bird":
		return "Ave"
	case "exotic":
		return "Exotico"
	default:
		return species
	}
}
