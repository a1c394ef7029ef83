package extraction

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"docdigitizer/internal/apperr"
	"docdigitizer/internal/config"
	"docdigitizer/internal/models"
)

// EinoEngine runs extraction through an eino chat model, which lets OpenAI
// compatible endpoints and Claude serve as the vision engine.
type EinoEngine struct {
	chat model.BaseChatModel
}

func NewEinoEngine(ctx context.Context, cfg config.EngineConfig) (*EinoEngine, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch cfg.Provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: cfg.MaxTokens,
		})
	case "gemini", "vertex":
		client, cerr := newGenAIClient(ctx, cfg)
		if cerr != nil {
			return nil, cerr
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s chat model: %w", cfg.Provider, err)
	}
	return &EinoEngine{chat: chatModel}, nil
}

func (e *EinoEngine) Extract(ctx context.Context, pages []PageImage, multiPage bool) (models.StructuredFields, error) {
	if len(pages) == 0 {
		return models.StructuredFields{}, apperr.Engine("no pages to extract", nil)
	}
	parts := make([]schema.MessageInputPart, 0, len(pages)+1)
	for _, p := range pages {
		part, err := inputPart(p)
		if err != nil {
			return models.StructuredFields{}, err
		}
		parts = append(parts, part)
	}
	parts = append(parts, schema.MessageInputPart{
		Type: schema.ChatMessagePartTypeText,
		Text: userPrompt(len(pages), multiPage),
	})

	messages := []*schema.Message{
		schema.SystemMessage(SystemPrompt(multiPage)),
		{Role: schema.User, UserInputMultiContent: parts},
	}
	resp, err := e.chat.Generate(ctx, messages)
	if err != nil {
		return models.StructuredFields{}, apperr.Engine("generate chat completion", err)
	}
	if resp == nil {
		return models.StructuredFields{}, apperr.Engine("model returned no message", nil)
	}
	if looksLikeRefusal(resp.Content) {
		return models.StructuredFields{}, apperr.Engine("model refused the request", nil)
	}
	return ParseFields(resp.Content)
}

func inputPart(p PageImage) (schema.MessageInputPart, error) {
	data := base64.StdEncoding.EncodeToString(p.Data)
	common := schema.MessagePartCommon{Base64Data: &data, MIMEType: p.MIMEType}
	switch {
	case strings.HasPrefix(p.MIMEType, "image/"):
		return schema.MessageInputPart{
			Type:  schema.ChatMessagePartTypeImageURL,
			Image: &schema.MessageInputImage{MessagePartCommon: common},
		}, nil
	case p.MIMEType == "application/pdf":
		return schema.MessageInputPart{
			Type: schema.ChatMessagePartTypeFileURL,
			File: &schema.MessageInputFile{MessagePartCommon: common},
		}, nil
	default:
		return schema.MessageInputPart{}, apperr.Engine(fmt.Sprintf("unsupported page type %q", p.MIMEType), nil)
	}
}
