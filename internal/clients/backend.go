package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
)

// ErrNotFound is returned when the backend reports a missing resource.
var ErrNotFound = errors.New("resource not found")

const backendTimeout = 30 * time.Second

// User is a registered tutor account.
type User struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// Pet is one registered animal. BirthDate is an ISO date ("2006-01-02").
type Pet struct {
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	Name      string  `json:"name"`
	Species   string  `json:"species"`
	Breed     string  `json:"breed,omitempty"`
	BirthDate string  `json:"birthDate,omitempty"`
	Sex       string  `json:"sex,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
	Neutered  bool    `json:"neutered,omitempty"`
	PhotoURL  string  `json:"photoUrl,omitempty"`
}

// NewPet is the payload for registering a pet.
type NewPet struct {
	Name      string  `json:"name"`
	Species   string  `json:"species"`
	Breed     string  `json:"breed,omitempty"`
	BirthDate string  `json:"birthDate,omitempty"`
	Sex       string  `json:"sex,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
}

// Consultation is one triage session for a pet.
type Consultation struct {
	ID              string     `json:"id"`
	PetID           string     `json:"petId"`
	Status          string     `json:"status"`
	Symptoms        string     `json:"symptoms,omitempty"`
	Diagnosis       *Diagnosis `json:"diagnosis,omitempty"`
	Treatment       *Treatment `json:"treatment,omitempty"`
	UrgencyLevel    string     `json:"urgencyLevel,omitempty"`
	PrescriptionURL string     `json:"prescriptionUrl,omitempty"`
	StartedAt       string     `json:"startedAt"`
	CompletedAt     string     `json:"completedAt,omitempty"`
}

// ConsultationUpdate carries the mutable consultation fields for PATCH.
type ConsultationUpdate struct {
	Status       string     `json:"status,omitempty"`
	Diagnosis    *Diagnosis `json:"diagnosis,omitempty"`
	Treatment    *Treatment `json:"treatment,omitempty"`
	UrgencyLevel string     `json:"urgencyLevel,omitempty"`
}

// Diagnosis is the AI assessment attached to a consultation.
type Diagnosis struct {
	Primary       string         `json:"primary"`
	Differentials []Differential `json:"differentials,omitempty"`
	UrgencyLevel  string         `json:"urgencyLevel"`
}

// Differential is one alternative condition with its probability.
type Differential struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
}

// Treatment is the protocol attached to a consultation.
type Treatment struct {
	Medications    []Medication `json:"medications"`
	SupportiveCare []string     `json:"supportiveCare,omitempty"`
	FollowUp       string       `json:"followUp,omitempty"`
}

// Medication is one prescribed drug.
type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Route     string `json:"route"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

// HealthRecord is one entry in a pet's history.
type HealthRecord struct {
	ID          string `json:"id"`
	PetID       string `json:"petId"`
	RecordType  string `json:"recordType"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date"`
}

// Subscription is the tutor's current plan state.
type Subscription struct {
	Plan             string `json:"plan"`
	Status           string `json:"status"`
	CurrentPeriodEnd string `json:"currentPeriodEnd"`
}

// Backend talks to the core platform API.
type Backend struct {
	baseURL string
	hc      *http.Client
}

// NewBackend builds a backend client for the given base URL.
func NewBackend(baseURL string) *Backend {
	return &Backend{
		baseURL: baseURL,
		hc:      buildHTTPClient(backendTimeout),
	}
}

func (b *Backend) do(ctx context.Context, method, path string, in, out any) error {
	err := doJSON(ctx, b.hc, method, b.baseURL+path, nil, in, out)
	if err == nil {
		return nil
	}
	if StatusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	logger.API.Error("request failed",
		"event", "api.request",
		"http_code", StatusCode(err),
		"url", path,
		"err", err)
	return err
}

// UserByPhone looks a user up by phone number. Returns ErrNotFound when
// the number is not registered.
func (b *Backend) UserByPhone(ctx context.Context, phone string) (*User, error) {
	var u User
	if err := b.do(ctx, http.MethodGet, "/api/v1/users/by-phone/"+url.PathEscape(phone), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser registers a new tutor.
func (b *Backend) CreateUser(ctx context.Context, phone, name string) (*User, error) {
	in := map[string]string{"phoneNumber": phone}
	if name != "" {
		in["name"] = name
	}
	var u User
	if err := b.do(ctx, http.MethodPost, "/api/v1/users", in, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Pets lists a user's registered pets.
func (b *Backend) Pets(ctx context.Context, userID string) ([]Pet, error) {
	var pets []Pet
	if err := b.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(userID)+"/pets", nil, &pets); err != nil {
		return nil, err
	}
	return pets, nil
}

// CreatePet registers a pet for a user.
func (b *Backend) CreatePet(ctx context.Context, userID string, in NewPet) (*Pet, error) {
	var p Pet
	if err := b.do(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(userID)+"/pets", in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PetByID fetches one pet.
func (b *Backend) PetByID(ctx context.Context, petID string) (*Pet, error) {
	var p Pet
	if err := b.do(ctx, http.MethodGet, "/api/v1/pets/"+url.PathEscape(petID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// StartConsultation opens a consultation for the pet with the reported symptoms.
func (b *Backend) StartConsultation(ctx context.Context, petID, symptoms string) (*Consultation, error) {
	in := map[string]string{"petId": petID, "symptoms": symptoms}
	var c Consultation
	if err := b.do(ctx, http.MethodPost, "/api/v1/consultations", in, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateConsultation patches a consultation with diagnosis, treatment or status.
func (b *Backend) UpdateConsultation(ctx context.Context, id string, in ConsultationUpdate) (*Consultation, error) {
	var c Consultation
	if err := b.do(ctx, http.MethodPatch, "/api/v1/consultations/"+url.PathEscape(id), in, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GeneratePrescription renders the prescription PDF and returns its URL.
func (b *Backend) GeneratePrescription(ctx context.Context, consultationID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := b.do(ctx, http.MethodPost, "/api/v1/consultations/"+url.PathEscape(consultationID)+"/prescription", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// HealthRecords lists the pet's history entries.
func (b *Backend) HealthRecords(ctx context.Context, petID string) ([]HealthRecord, error) {
	var records []HealthRecord
	if err := b.do(ctx, http.MethodGet, "/api/v1/pets/"+url.PathEscape(petID)+"/records", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SubscriptionFor fetches the user's subscription. Returns ErrNotFound when
// the user never subscribed.
func (b *Backend) SubscriptionFor(ctx context.Context, userID string) (*Subscription, error) {
	var s Subscription
	if err := b.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(userID)+"/subscription", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SubscriptionResult is the outcome of creating a subscription. CheckoutURL
// is set when the payment provider requires an external checkout step.
type SubscriptionResult struct {
	CheckoutURL string `json:"checkoutUrl,omitempty"`
	Plan        string `json:"plan,omitempty"`
	Status      string `json:"status,omitempty"`
}

// CreateSubscription signs the user up for a plan.
func (b *Backend) CreateSubscription(ctx context.Context, userID, plan string) (*SubscriptionResult, error) {
	in := map[string]string{"userId": userID, "plan": plan}
	var out SubscriptionResult
	if err := b.do(ctx, http.MethodPost, "/api/v1/subscriptions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelSubscription cancels at the end of the current period.
func (b *Backend) CancelSubscription(ctx context.Context, userID string) error {
	return b.do(ctx, http.MethodDelete, "/api/v1/users/"+url.PathEscape(userID)+"/subscription", nil, nil)
}
