package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"warden/internal/domain"
	"warden/internal/infra/config"
	"warden/internal/infra/tracer"
)

// geminiAPI is the part of the genai client the provider uses.
type geminiAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider implements domain.LLMProvider on the Gemini API or Vertex AI.
type GeminiProvider struct {
	name        string
	model       string
	temperature float64
	client      geminiAPI
	logger      *slog.Logger
}

var _ domain.LLMProvider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a provider. Type "vertex" uses Vertex AI with
// application default credentials; anything else uses the API key.
func NewGeminiProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: NewHTTPClient(cfg),
	}
	if cfg.Type == "vertex" {
		cc.APIKey = ""
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiProviderWithClient(cfg, client.Models, logger), nil
}

func newGeminiProviderWithClient(cfg config.ProviderConfig, client geminiAPI, logger *slog.Logger) *GeminiProvider {
	return &GeminiProvider{
		name:        cfg.Name,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      client,
		logger:      logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *GeminiProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	if req.Temperature == 0 {
		req.Temperature = p.temperature
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	contents, genCfg := toGeminiRequest(req)
	resp, err := p.client.GenerateContent(ctx, req.Model, contents, genCfg)
	if err != nil {
		err = mapGeminiError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	result, err := fromGeminiResponse(resp, req.Model)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// Name implements domain.LLMProvider.
func (p *GeminiProvider) Name() string { return p.name }

func toGeminiRequest(req domain.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	genCfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)

		case domain.RoleTool:
			c := &genai.Content{Role: genai.RoleUser}
			for _, r := range m.ToolResults {
				response := map[string]any{"output": r.Content}
				if r.IsError {
					response = map[string]any{"error": r.Content}
				}
				c.Parts = append(c.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{ID: r.ToolCallID, Name: r.Name, Response: response},
				})
			}
			if len(c.Parts) > 0 {
				contents = append(contents, c)
			}

		case domain.RoleAssistant:
			c := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				c.Parts = append(c.Parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				c.Parts = append(c.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
				})
			}
			if len(c.Parts) > 0 {
				contents = append(contents, c)
			}

		default:
			if m.Content == "" {
				continue
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			})
		}
	}

	if len(system) > 0 {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(strings.Join(system, "\n\n"))},
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			fd := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
			if len(t.Parameters) > 0 {
				fd.ParametersJsonSchema = t.Parameters
			}
			decls = append(decls, fd)
		}
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, genCfg
}

func fromGeminiResponse(resp *genai.GenerateContentResponse, model string) (*domain.ChatResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: gemini returned no candidates", domain.ErrProviderError)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: response blocked by safety filters", domain.ErrProviderError)
	}

	now := time.Now()
	result := &domain.ChatResponse{
		ID:         resp.ResponseID,
		Model:      model,
		StopReason: string(cand.FinishReason),
		CreatedAt:  now,
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		result.Usage = domain.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	msg := domain.Message{Role: domain.RoleAssistant, Timestamp: now}
	if cand.Content != nil {
		var text strings.Builder
		for i, part := range cand.Content.Parts {
			switch {
			case part == nil || part.Thought:
				continue
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, i)
				}
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: args})
			case part.Text != "":
				text.WriteString(part.Text)
			}
		}
		msg.Content = text.String()
	}

	result.Message = msg
	return result, nil
}

// mapGeminiError maps genai API errors onto domain sentinels.
func mapGeminiError(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: gemini: %w", domain.ErrRateLimit, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: gemini: %w", domain.ErrAuthInvalid, err)
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: gemini: %w", domain.ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: gemini: %w", domain.ErrProviderError, err)
}
