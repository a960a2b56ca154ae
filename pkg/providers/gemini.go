package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/derm-diagnosis-server/internal/domain"
)

// GeminiClient handles interactions with the Google Gemini generateContent API.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGeminiClient creates a new Gemini API client.
func NewGeminiClient(config domain.GeminiConfig) *GeminiClient {
	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	return &GeminiClient{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// geminiRequest represents the generateContent request body.
type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string  `json:"response_mime_type"`
	Temperature      float64 `json:"temperature"`
}

// geminiResponse represents the generateContent response body.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Name returns the provider identity.
func (c *GeminiClient) Name() domain.Provider {
	return domain.ProviderGemini
}

// Invoke submits the lesion images and clinical context for assessment.
func (c *GeminiClient) Invoke(ctx context.Context, images []domain.ImagePayload, symptoms domain.SymptomContext) (*domain.RawResult, *domain.ProviderFailure) {
	start := time.Now()

	parts := []geminiPart{{Text: buildDiagnosisPrompt(symptoms)}}
	for _, img := range images {
		parts = append(parts, imagePart(img))
	}

	text, pf := c.generate(ctx, parts)
	if pf != nil {
		return nil, pf
	}

	payload, pf := parseAssessment(domain.ProviderGemini, text)
	if pf != nil {
		return nil, pf
	}

	return &domain.RawResult{
		Provider:            domain.ProviderGemini,
		Diagnoses:           payload.Diagnoses,
		AnalysisTimeSeconds: time.Since(start).Seconds(),
	}, nil
}

// Compare submits two ordered snapshots of the same lesion for a progression
// verdict.
func (c *GeminiClient) Compare(ctx context.Context, previous, current domain.ImagePayload, timeElapsed string) (*domain.RawComparison, *domain.ProviderFailure) {
	start := time.Now()

	parts := []geminiPart{
		{Text: buildComparisonPrompt(timeElapsed)},
		imagePart(previous),
		imagePart(current),
	}

	text, pf := c.generate(ctx, parts)
	if pf != nil {
		return nil, pf
	}

	payload, pf := parseComparison(domain.ProviderGemini, text)
	if pf != nil {
		return nil, pf
	}

	return &domain.RawComparison{
		ChangeDetected:      payload.ChangeDetected,
		SizeChange:          payload.SizeChange,
		ColorChange:         payload.ColorChange,
		BorderChange:        payload.BorderChange,
		TextureChange:       payload.TextureChange,
		OverallProgression:  payload.OverallProgression,
		RiskLevel:           payload.RiskLevel,
		Recommendations:     payload.Recommendations,
		DetailedAnalysis:    payload.DetailedAnalysis,
		AnalysisTimeSeconds: time.Since(start).Seconds(),
	}, nil
}

// generate executes one generateContent call and returns the first candidate
// text.
func (c *GeminiClient) generate(ctx context.Context, parts []geminiPart) (string, *domain.ProviderFailure) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", classifyTransportError(domain.ProviderGemini, err)
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			ResponseMIMEType: "application/json",
			Temperature:      0.2,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", failure(domain.ProviderGemini, domain.FailureInvalidRequest, "could not encode request: %v", err)
	}

	url := fmt.Sprintf("%smodels/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", failure(domain.ProviderGemini, domain.FailureInvalidRequest, "could not build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(domain.ProviderGemini, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure(domain.ProviderGemini, domain.FailureUpstreamError, "could not read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(domain.ProviderGemini, resp.StatusCode, string(respBody))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", failure(domain.ProviderGemini, domain.FailureInvalidResponse, "could not decode response envelope: %v", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", failure(domain.ProviderGemini, domain.FailureInvalidResponse, "response contained no candidates")
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func imagePart(img domain.ImagePayload) geminiPart {
	return geminiPart{InlineData: &geminiInlineData{
		MIMEType: img.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(img.Data),
	}}
}
