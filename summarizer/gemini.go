package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

const (
	geminiTemperature = 0.4
	geminiTopP        = 0.95
)

type geminiProvider struct {
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
	baseURL   string
}

// NewGemini creates a Provider backed by the Gemini REST API.
func NewGemini(apiKey, model string, maxTokens int, client *http.Client) Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return &geminiProvider{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		client:    client,
		baseURL:   geminiBaseURL,
	}
}

// newGeminiWithURL creates a Gemini provider with a custom base URL for testing.
func newGeminiWithURL(apiKey, model string, maxTokens int, client *http.Client, url string) Provider {
	return &geminiProvider{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		client:    client,
		baseURL:   url,
	}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *geminiProvider) Name() string {
	return "gemini"
}

func (g *geminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenConfig{
			MaxOutputTokens: g.maxTokens,
			Temperature:     geminiTemperature,
			TopP:            geminiTopP,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Gemini API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &apiError{provider: "gemini", status: resp.StatusCode, body: snippet(respBody)}
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(respBody, &gemResp); err != nil {
		return "", fmt.Errorf("parsing Gemini response: %w", err)
	}

	if len(gemResp.Candidates) == 0 || len(gemResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from Gemini API")
	}

	return gemResp.Candidates[0].Content.Parts[0].Text, nil
}
