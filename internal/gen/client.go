// Package gen wraps the external generative-language API. The orchestrator
// and registry talk to the Generator interface so tests can stub responses.
package gen

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/models"
)

// Generator is the external generation collaborator.
type Generator interface {
	// Ready reports whether a credential is configured.
	Ready() bool

	// Generate performs a single non-streaming call with a flat prompt.
	Generate(ctx context.Context, prompt string, cfg models.GenerationConfig) (string, error)

	// GenerateStream opens a streaming call over a role-tagged turn sequence,
	// sending the instruction as the final user turn. onChunk is invoked for
	// each text chunk in arrival order; the full response is returned once
	// the stream settles.
	GenerateStream(ctx context.Context, turns []models.Turn, instruction string, cfg models.GenerationConfig, onChunk func(text string)) (string, error)
}

// Client is the genai-backed Generator. The API key can be replaced at
// runtime; the underlying client is rebuilt under the lock.
type Client struct {
	mu     sync.RWMutex
	client *genai.Client
	model  string
}

// NewClient creates a client. An empty apiKey yields a client that is not
// Ready; the key can be supplied later via SetAPIKey.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	c := &Client{model: model}
	if apiKey == "" {
		return c, nil
	}
	if err := c.SetAPIKey(ctx, apiKey); err != nil {
		return nil, err
	}
	return c, nil
}

// SetModel switches the target model version.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// SetAPIKey replaces the credential and rebuilds the underlying client.
func (c *Client) SetAPIKey(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return &models.GenerationError{
			Category: models.GenerationErrorCredential,
			Err:      fmt.Errorf("no API key configured"),
		}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &models.GenerationError{Category: models.GenerationErrorCredential, Err: err}
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	logger.Log.Info("generator_configured", zap.String("model", c.model))
	return nil
}

// Ready reports whether a credential is configured.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// VerifyKey validates the configured credential by attempting one live call.
func (c *Client) VerifyKey(ctx context.Context) error {
	_, err := c.Generate(ctx, "Hello", models.GenerationConfig{MaxOutputTokens: 8})
	return err
}

func (c *Client) snapshot() (*genai.Client, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, "", &models.GenerationError{
			Category: models.GenerationErrorCredential,
			Err:      fmt.Errorf("no API key configured"),
		}
	}
	return c.client, c.model, nil
}

// Generate performs a single non-streaming call.
func (c *Client) Generate(ctx context.Context, prompt string, cfg models.GenerationConfig) (string, error) {
	client, model, err := c.snapshot()
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := client.Models.GenerateContent(ctx, model, contents, generationConfig(cfg))
	if err != nil {
		return "", Classify(err)
	}

	text := resp.Text()
	if text == "" {
		return "", &models.GenerationError{
			Category: models.GenerationErrorSafety,
			Err:      fmt.Errorf("model returned no text"),
		}
	}
	return text, nil
}

// GenerateStream opens a streaming call over the turn sequence.
func (c *Client) GenerateStream(ctx context.Context, turns []models.Turn, instruction string, cfg models.GenerationConfig, onChunk func(text string)) (string, error) {
	client, model, err := c.snapshot()
	if err != nil {
		return "", err
	}

	contents := make([]*genai.Content, 0, len(turns)+1)
	for _, t := range turns {
		contents = append(contents, genai.NewContentFromText(t.Text, apiRole(t.Role)))
	}
	// The instruction rides as the final user turn, the same way a typed
	// message would.
	contents = append(contents, genai.NewContentFromText(instruction, genai.RoleUser))

	var full string
	for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, generationConfig(cfg)) {
		if err != nil {
			return full, Classify(err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		full += chunk
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return full, nil
}

// apiRole maps a compiled turn role onto the provider's role type. Anything
// that is not a model turn is sent as a user turn.
func apiRole(r models.Role) genai.Role {
	if r == models.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func generationConfig(cfg models.GenerationConfig) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{}
	if cfg.Temperature != 0 {
		out.Temperature = genai.Ptr(cfg.Temperature)
	}
	if cfg.TopK != 0 {
		out.TopK = genai.Ptr(cfg.TopK)
	}
	if cfg.TopP != 0 {
		out.TopP = genai.Ptr(cfg.TopP)
	}
	if cfg.MaxOutputTokens > 0 {
		out.MaxOutputTokens = cfg.MaxOutputTokens
	}
	return out
}
