package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
)

// Diagnosis generation can take a while, hence the longer budget.
const aiTimeout = 60 * time.Second

// PetInfo summarizes the animal for the diagnosis engine.
type PetInfo struct {
	Species  string  `json:"species"`
	Breed    string  `json:"breed,omitempty"`
	AgeYears float64 `json:"age,omitempty"`
	Weight   float64 `json:"weight,omitempty"`
	Sex      string  `json:"sex,omitempty"`
	Neutered bool    `json:"neutered,omitempty"`
}

// AnalysisRequest asks for a symptom assessment.
type AnalysisRequest struct {
	Symptoms          string   `json:"symptoms"`
	PetID             string   `json:"petId"`
	ConsultationID    string   `json:"consultationId"`
	PetInfo           *PetInfo `json:"petInfo,omitempty"`
	ClarifyingAnswers []string `json:"clarifyingAnswers,omitempty"`
}

// AnalysisResponse either requests clarification or carries a diagnosis.
type AnalysisResponse struct {
	NeedsClarification  bool       `json:"needsClarification"`
	ClarifyingQuestions []string   `json:"clarifyingQuestions,omitempty"`
	Diagnosis           *Diagnosis `json:"diagnosis,omitempty"`
	Confidence          float64    `json:"confidence,omitempty"`
}

// TreatmentRequest asks for a protocol matching a diagnosis.
type TreatmentRequest struct {
	ConsultationID string     `json:"consultationId"`
	Diagnosis      *Diagnosis `json:"diagnosis"`
	PetInfo        *PetInfo   `json:"petInfo,omitempty"`
}

// TreatmentResponse is the generated protocol.
type TreatmentResponse struct {
	Medications    []Medication `json:"medications"`
	SupportiveCare []string     `json:"supportiveCare,omitempty"`
	Monitoring     []string     `json:"monitoring,omitempty"`
	FollowUp       string       `json:"followUp,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
}

// ImageRequest asks for an assessment of a photo.
type ImageRequest struct {
	ImageURL       string `json:"imageUrl"`
	PetID          string `json:"petId"`
	ConsultationID string `json:"consultationId,omitempty"`
	Context        string `json:"context,omitempty"`
}

// ImageResponse is the visual assessment.
type ImageResponse struct {
	Findings        []string `json:"findings"`
	Concerns        []string `json:"concerns,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	UrgencyLevel    string   `json:"urgencyLevel"`
}

// AI talks to the diagnosis service.
type AI struct {
	baseURL string
	hc      *http.Client
}

// NewAI builds a diagnosis-service client for the given base URL.
func NewAI(baseURL string) *AI {
	return &AI{
		baseURL: baseURL,
		hc:      buildHTTPClient(aiTimeout),
	}
}

func (a *AI) post(ctx context.Context, path string, in, out any) error {
	err := doJSON(ctx, a.hc, http.MethodPost, a.baseURL+path, nil, in, out)
	if err != nil {
		logger.AI.Error("request failed",
			"event", "ai.request",
			"http_code", StatusCode(err),
			"url", path,
			"err", err)
	}
	return err
}

// AnalyzeSymptoms submits symptoms for assessment.
func (a *AI) AnalyzeSymptoms(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error) {
	start := time.Now()
	var out AnalysisResponse
	if err := a.post(ctx, "/api/v1/diagnosis/analyze", req, &out); err != nil {
		return nil, err
	}
	logger.AI.Info("analysis completed",
		"event", "ai.analyze",
		"consultation_id", req.ConsultationID,
		"duration", logger.Took(start),
		"needs_clarification", out.NeedsClarification)
	return &out, nil
}

// TreatmentProtocol generates a protocol for a confirmed diagnosis.
func (a *AI) TreatmentProtocol(ctx context.Context, req TreatmentRequest) (*TreatmentResponse, error) {
	start := time.Now()
	var out TreatmentResponse
	if err := a.post(ctx, "/api/v1/diagnosis/treatment", req, &out); err != nil {
		return nil, err
	}
	logger.AI.Info("treatment generated",
		"event", "ai.treatment",
		"consultation_id", req.ConsultationID,
		"duration", logger.Took(start),
		"count", len(out.Medications))
	return &out, nil
}

// AnalyzeImage submits a photo for assessment.
func (a *AI) AnalyzeImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	start := time.Now()
	var out ImageResponse
	if err := a.post(ctx, "/api/v1/diagnosis/image", req, &out); err != nil {
		return nil, err
	}
	logger.AI.Info("image analyzed",
		"event", "ai.image",
		"pet_id", req.PetID,
		"duration", logger.Took(start))
	return &out, nil
}

// Healthy reports whether the diagnosis service answers its health probe.
func (a *AI) Healthy(ctx context.Context) bool {
	err := doJSON(ctx, a.hc, http.MethodGet, a.baseURL+"/health", nil, nil, nil)
	return err == nil
}
