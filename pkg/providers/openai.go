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

// OpenAIClient handles interactions with the OpenAI chat completions vision API.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOpenAIClient creates a new OpenAI API client.
func NewOpenAIClient(config domain.OpenAIConfig) *OpenAIClient {
	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	return &OpenAIClient{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// openAIRequest represents the chat completions request body.
type openAIRequest struct {
	Model          string               `json:"model"`
	Messages       []openAIMessage      `json:"messages"`
	ResponseFormat openAIResponseFormat `json:"response_format"`
	Temperature    float64              `json:"temperature"`
}

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

// openAIResponse represents the chat completions response body.
type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Name returns the provider identity.
func (c *OpenAIClient) Name() domain.Provider {
	return domain.ProviderOpenAI
}

// Invoke submits the lesion images and clinical context for assessment.
func (c *OpenAIClient) Invoke(ctx context.Context, images []domain.ImagePayload, symptoms domain.SymptomContext) (*domain.RawResult, *domain.ProviderFailure) {
	start := time.Now()

	content := []openAIContentPart{{Type: "text", Text: buildDiagnosisPrompt(symptoms)}}
	for _, img := range images {
		content = append(content, imageContentPart(img))
	}

	text, pf := c.complete(ctx, content)
	if pf != nil {
		return nil, pf
	}

	payload, pf := parseAssessment(domain.ProviderOpenAI, text)
	if pf != nil {
		return nil, pf
	}

	return &domain.RawResult{
		Provider:            domain.ProviderOpenAI,
		Diagnoses:           payload.Diagnoses,
		AnalysisTimeSeconds: time.Since(start).Seconds(),
	}, nil
}

// Compare submits two ordered snapshots of the same lesion for a progression
// verdict.
func (c *OpenAIClient) Compare(ctx context.Context, previous, current domain.ImagePayload, timeElapsed string) (*domain.RawComparison, *domain.ProviderFailure) {
	start := time.Now()

	content := []openAIContentPart{
		{Type: "text", Text: buildComparisonPrompt(timeElapsed)},
		imageContentPart(previous),
		imageContentPart(current),
	}

	text, pf := c.complete(ctx, content)
	if pf != nil {
		return nil, pf
	}

	payload, pf := parseComparison(domain.ProviderOpenAI, text)
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

// complete executes one chat completion call and returns the first choice's
// message content.
func (c *OpenAIClient) complete(ctx context.Context, content []openAIContentPart) (string, *domain.ProviderFailure) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", classifyTransportError(domain.ProviderOpenAI, err)
	}

	reqBody := openAIRequest{
		Model:          c.model,
		Messages:       []openAIMessage{{Role: "user", Content: content}},
		ResponseFormat: openAIResponseFormat{Type: "json_object"},
		Temperature:    0.2,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", failure(domain.ProviderOpenAI, domain.FailureInvalidRequest, "could not encode request: %v", err)
	}

	url := c.baseURL + "chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", failure(domain.ProviderOpenAI, domain.FailureInvalidRequest, "could not build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(domain.ProviderOpenAI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure(domain.ProviderOpenAI, domain.FailureUpstreamError, "could not read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(domain.ProviderOpenAI, resp.StatusCode, string(respBody))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", failure(domain.ProviderOpenAI, domain.FailureInvalidResponse, "could not decode response envelope: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", failure(domain.ProviderOpenAI, domain.FailureInvalidResponse, "response contained no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

func imageContentPart(img domain.ImagePayload) openAIContentPart {
	return openAIContentPart{
		Type: "image_url",
		ImageURL: &openAIImageURL{
			URL: fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data)),
		},
	}
}
