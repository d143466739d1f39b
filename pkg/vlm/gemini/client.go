// Package gemini implements the vlm.Provider contract against the Google
// generative language API: the genai SDK for structured vision and text
// calls, and the raw REST surface for image output, which the SDK does not
// expose.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/backtrue/omakase-app/pkg/vlm"
)

const restBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements vlm.Provider for Gemini vision models and Gemini/Imagen
// image models.
type Client struct {
	config vlm.Config
	httpc  *http.Client
}

// New creates a Gemini client for the given configuration.
func New(config vlm.Config) *Client {
	return &Client{
		config: config,
		httpc:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Factory returns a vlm.Factory that builds Clients sharing this client's
// API key and generation settings but bound to specific models.
func Factory(config vlm.Config) vlm.Factory {
	return func(visionModel, imageModel string) vlm.Provider {
		c := config
		c.VisionModel = visionModel
		c.ImageModel = imageModel
		return New(c)
	}
}

// RecognizeDishStrings extracts raw dish name strings from one image segment.
func (c *Client) RecognizeDishStrings(ctx context.Context, image []byte, mimeType, prompt string) (vlm.DishStrings, error) {
	text, err := c.generateJSON(ctx, prompt, image, mimeType)
	if err != nil {
		return vlm.DishStrings{}, err
	}
	out, err := vlm.DecodeDishStrings(text)
	if err != nil {
		return vlm.DishStrings{}, fmt.Errorf("decode dish strings: %w", err)
	}
	return out, nil
}

// ParseMenu extracts fully structured menu items from one image.
func (c *Client) ParseMenu(ctx context.Context, image []byte, mimeType, prompt string) (vlm.MenuPayload, error) {
	text, err := c.generateJSON(ctx, prompt, image, mimeType)
	if err != nil {
		return vlm.MenuPayload{}, err
	}
	out, err := vlm.DecodeMenuPayload(text)
	if err != nil {
		return vlm.MenuPayload{}, fmt.Errorf("decode menu payload: %w", err)
	}
	return out, nil
}

// Translate resolves a batch of dish names into translated menu items.
func (c *Client) Translate(ctx context.Context, prompt string) (vlm.MenuPayload, error) {
	text, err := c.generateJSON(ctx, prompt, nil, "")
	if err != nil {
		return vlm.MenuPayload{}, err
	}
	out, err := vlm.DecodeMenuPayload(text)
	if err != nil {
		return vlm.MenuPayload{}, fmt.Errorf("decode translation: %w", err)
	}
	return out, nil
}

// generateJSON runs one generateContent call in JSON mode and returns the
// concatenated text of the first candidate.
func (c *Client) generateJSON(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if c.config.APIKey == "" {
		return "", fmt.Errorf("gemini: api key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(c.config.APIKey))
	if err != nil {
		return "", fmt.Errorf("gemini client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(strings.TrimSpace(c.config.VisionModel))
	temp := c.config.Temperature
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}
	if c.config.MaxOutputTokens > 0 {
		tokens := int32(c.config.MaxOutputTokens)
		m.GenerationConfig.MaxOutputTokens = &tokens
	}

	parts := []genai.Part{genai.Text(prompt)}
	if len(image) > 0 {
		parts = append(parts, &genai.Blob{MIMEType: mimeType, Data: image})
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := candidateText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini: empty response (model=%s)", c.config.VisionModel)
	}
	return text, nil
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// GenerateImage renders an illustration for the given prompt. Imagen models
// go through the predict endpoint; Gemini native image models return inline
// data from generateContent.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if c.config.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is empty")
	}
	model := strings.TrimSpace(c.config.ImageModel)
	if strings.HasPrefix(model, "imagen-") {
		return c.predictImage(ctx, model, prompt)
	}
	return c.inlineImage(ctx, model, prompt)
}

// predictImage calls the Imagen text-to-image predict endpoint.
func (c *Client) predictImage(ctx context.Context, model, prompt string) ([]byte, error) {
	body := map[string]any{
		"instances":  []any{map[string]any{"prompt": prompt}},
		"parameters": map[string]any{"sampleCount": 1, "aspectRatio": "1:1"},
	}
	var out struct {
		Predictions []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
		} `json:"predictions"`
	}
	if err := c.postJSON(ctx, fmt.Sprintf("%s/models/%s:predict", restBaseURL, model), body, &out); err != nil {
		return nil, err
	}
	if len(out.Predictions) == 0 || out.Predictions[0].BytesBase64Encoded == "" {
		return nil, fmt.Errorf("imagen %s returned no images", model)
	}
	data, err := base64.StdEncoding.DecodeString(out.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, fmt.Errorf("decode imagen payload: %w", err)
	}
	return data, nil
}

// inlineImage calls generateContent on a Gemini native image model and pulls
// the first inline data part out of the response.
func (c *Client) inlineImage(ctx context.Context, model, prompt string) ([]byte, error) {
	body := map[string]any{
		"contents": []any{
			map[string]any{
				"parts": []any{map[string]any{"text": prompt}},
			},
		},
	}
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					InlineData *struct {
						MIMEType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := c.postJSON(ctx, fmt.Sprintf("%s/models/%s:generateContent", restBaseURL, model), body, &out); err != nil {
		return nil, err
	}
	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode inline image: %w", err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("image model %s returned no inline image data", model)
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gemini %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
