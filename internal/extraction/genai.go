package extraction

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"docdigitizer/internal/apperr"
	"docdigitizer/internal/config"
	"docdigitizer/internal/models"
)

// contentGenerator is the part of *genai.Models the engine uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIEngine calls Gemini directly, either through the Gemini API or Vertex AI.
type GenAIEngine struct {
	models    contentGenerator
	model     string
	maxTokens int32
}

func NewGenAIEngine(ctx context.Context, cfg config.EngineConfig) (*GenAIEngine, error) {
	client, err := newGenAIClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newGenAIEngine(client.Models, cfg.Model, cfg.MaxTokens), nil
}

func newGenAIClient(ctx context.Context, cfg config.EngineConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Provider == "vertex" {
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

func newGenAIEngine(models contentGenerator, model string, maxTokens int) *GenAIEngine {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &GenAIEngine{models: models, model: model, maxTokens: int32(maxTokens)}
}

func (e *GenAIEngine) Extract(ctx context.Context, pages []PageImage, multiPage bool) (models.StructuredFields, error) {
	if len(pages) == 0 {
		return models.StructuredFields{}, apperr.Engine("no pages to extract", nil)
	}
	parts := make([]*genai.Part, 0, len(pages)+1)
	for _, p := range pages {
		parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(userPrompt(len(pages), multiPage)))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, e.generateConfig(multiPage))
	if err != nil {
		return models.StructuredFields{}, apperr.Engine("generate content", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return models.StructuredFields{}, apperr.Engine("model returned no candidates", nil)
	}
	if reason := resp.Candidates[0].FinishReason; reason == genai.FinishReasonSafety || reason == genai.FinishReasonProhibitedContent {
		return models.StructuredFields{}, apperr.Engine(fmt.Sprintf("model stopped: %s", reason), nil)
	}
	text := resp.Text()
	if looksLikeRefusal(text) {
		return models.StructuredFields{}, apperr.Engine("model refused the request", nil)
	}
	return ParseFields(text)
}

func (e *GenAIEngine) generateConfig(multiPage bool) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](1),
		TopP:              genai.Ptr[float32](0.95),
		TopK:              genai.Ptr[float32](40),
		MaxOutputTokens:   e.maxTokens,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
		SystemInstruction: genai.NewContentFromText(SystemPrompt(multiPage), genai.RoleUser),
	}
}

func responseSchema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(stringFields)+1)
	for _, f := range stringFields {
		props[f] = &genai.Schema{Type: genai.TypeString, Nullable: genai.Ptr(true)}
	}
	props[sealField] = &genai.Schema{Type: genai.TypeBoolean, Nullable: genai.Ptr(true)}
	order := append(append([]string(nil), stringFields[:10]...), sealField)
	order = append(order, stringFields[10:]...)
	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       props,
		PropertyOrdering: order,
	}
}
