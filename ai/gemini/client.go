// Package gemini implements the LLM gateway on the Gemini API: asynchronous
// generation with a bounded tool-callback loop, thinking extraction,
// concurrency-capped embedding, key rotation on quota errors and a circuit
// breaker shared across keys.
package gemini

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"

	"github.com/gryagbot/gryag/ai"
)

const (
	// maxToolRounds bounds the function-call loop.
	maxToolRounds = 2
	// embedConcurrency caps in-flight embedding calls.
	embedConcurrency = 8
)

// ErrCircuitOpen is returned while the breaker is open; callers should fail
// fast with a localized message.
var ErrCircuitOpen = errors.New("gemini: circuit open")

// Client is the Gemini LLM gateway.
type Client struct {
	cfg     *ai.Config
	pool    *keyPool
	breaker *circuitBreaker
	sem     *semaphore.Weighted

	// Capability flags probed at runtime, sticky for the process lifetime.
	systemInstructionUnsupported atomic.Bool
	searchGroundingUnsupported   atomic.Bool
}

// NewClient creates the gateway. With FreeTierMode every configured key joins
// the rotation pool; otherwise only the first key is used.
func NewClient(ctx context.Context, cfg *ai.Config) (*Client, error) {
	keys := cfg.GeminiAPIKeys
	if !cfg.FreeTierMode && len(keys) > 1 {
		keys = keys[:1]
	}
	pool, err := newKeyPool(ctx, keys, cfg.KeyBlockSeconds)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		pool:    pool,
		breaker: newCircuitBreaker(defaultMaxFailures, defaultCircuitCooldown),
		sem:     semaphore.NewWeighted(embedConcurrency),
	}, nil
}

func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToUpper(msg), "RESOURCE_EXHAUSTED")
}

func isSystemInstructionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "system instruction") &&
		(strings.Contains(msg, "not supported") || strings.Contains(msg, "not enabled"))
}

func isSearchGroundingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "search grounding") && strings.Contains(msg, "not supported")
}

// call runs one raw GenerateContent against the first available key,
// rotating on quota errors until keys are exhausted.
func (c *Client) call(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	for attempt := 0; attempt < c.pool.size(); attempt++ {
		key, err := c.pool.next()
		if err != nil {
			return nil, err
		}
		resp, err := key.client.Models.GenerateContent(ctx, c.cfg.GenerateModel, contents, config)
		if err == nil {
			return resp, nil
		}
		if c.cfg.FreeTierMode && isQuotaError(err) {
			slog.Warn("gemini: quota error, rotating key", "error", err)
			c.pool.block(key)
			continue
		}
		return nil, err
	}
	return nil, ErrAllKeysBlocked
}

func safetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, cat := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  cat,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return settings
}

func toGenaiParts(parts []ai.Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.Data != nil {
			out = append(out, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data}})
			continue
		}
		out = append(out, &genai.Part{Text: p.Text})
	}
	return out
}

func toolDeclarations(tools []ai.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]*genai.Schema, len(t.Parameters))
		var required []string
		for name, p := range t.Parameters {
			var typ genai.Type
			switch p.Type {
			case "number":
				typ = genai.TypeNumber
			case "integer":
				typ = genai.TypeInteger
			case "boolean":
				typ = genai.TypeBoolean
			default:
				typ = genai.TypeString
			}
			props[name] = &genai.Schema{Type: typ, Description: p.Description}
			if p.Required {
				required = append(required, name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// buildTools assembles the tool list for one call. The Google Search grounding
// tool is appended when enabled and filtered out for the rest of the process
// lifetime once the server has rejected it.
func (c *Client) buildTools(req *ai.GenerateRequest) []*genai.Tool {
	tools := toolDeclarations(req.Tools)
	if c.cfg.EnableSearchGrounding && !c.searchGroundingUnsupported.Load() {
		tools = append(tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return tools
}

// Generate runs the tool-callback loop and returns visible text with thinking
// split out. Thinking parts never reach the visible text.
func (c *Client) Generate(ctx context.Context, req *ai.GenerateRequest) (*ai.GenerateResult, error) {
	if !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	result, err := c.generate(ctx, req)
	if err != nil {
		// Cancellation marks a failure but must not open the circuit.
		if !errors.Is(err, context.Canceled) {
			c.breaker.RecordFailure()
		}
		return nil, err
	}
	c.breaker.RecordSuccess()
	return result, nil
}

func (c *Client) generate(ctx context.Context, req *ai.GenerateRequest) (*ai.GenerateResult, error) {
	var contents []*genai.Content
	systemPrompt := req.SystemPrompt
	if systemPrompt != "" && c.systemInstructionUnsupported.Load() {
		// Fall back to a leading user turn when the model rejects the
		// system-instruction field.
		contents = append(contents, &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: systemPrompt}},
		})
		systemPrompt = ""
	}
	for _, turn := range req.History {
		role := "user"
		if turn.Role == "model" {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: toGenaiParts(turn.Parts)})
	}
	contents = append(contents, &genai.Content{Role: "user", Parts: toGenaiParts(req.UserParts)})

	config := &genai.GenerateContentConfig{
		SafetySettings: safetySettings(),
		Tools:          c.buildTools(req),
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	if c.cfg.ThinkingBudget != 0 {
		budget := int32(c.cfg.ThinkingBudget)
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  &budget,
		}
	}

	resp, err := c.call(ctx, contents, config)
	if isSystemInstructionError(err) && config.SystemInstruction != nil {
		c.systemInstructionUnsupported.Store(true)
		slog.Info("gemini: system instruction unsupported, falling back to user turn")
		prepended := append([]*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}}, contents...)
		config.SystemInstruction = nil
		resp, err = c.call(ctx, prepended, config)
		contents = prepended
	}
	if isSearchGroundingError(err) {
		c.searchGroundingUnsupported.Store(true)
		slog.Info("gemini: search grounding unsupported, disabled for process lifetime")
		// buildTools now skips the grounding tool; function declarations stay.
		config.Tools = c.buildTools(req)
		resp, err = c.call(ctx, contents, config)
	}
	if err != nil {
		return nil, err
	}

	result := &ai.GenerateResult{}

	// Tool loop, bounded to maxToolRounds.
	for round := 0; round < maxToolRounds; round++ {
		calls := functionCalls(resp)
		if len(calls) == 0 {
			break
		}
		modelContent := responseContent(resp)
		if modelContent == nil {
			break
		}
		contents = append(contents, modelContent)

		var responseParts []*genai.Part
		executed := false
		for _, fc := range calls {
			handler, ok := req.ToolCallbacks[fc.Name]
			if !ok {
				continue
			}
			executed = true
			result.ToolsUsed = append(result.ToolsUsed, fc.Name)
			responseParts = append(responseParts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     fc.Name,
					Response: runTool(ctx, handler, fc.Args),
				},
			})
		}
		if !executed {
			break
		}
		contents = append(contents, &genai.Content{Role: "tool", Parts: responseParts})

		resp, err = c.call(ctx, contents, config)
		if err != nil {
			return nil, err
		}
	}

	text, thinking := extractText(resp)
	if text == "" && len(functionCalls(resp)) > 0 {
		// The model kept calling tools without producing text; retry once
		// without tools to force a textual reply.
		config.Tools = nil
		resp, err = c.call(ctx, contents, config)
		if err != nil {
			return nil, err
		}
		text, thinking = extractText(resp)
	}

	result.Text = text
	result.Thinking = thinking
	if resp.UsageMetadata != nil {
		result.TokenCount = int(resp.UsageMetadata.TotalTokenCount)
	}
	return result, nil
}

// runTool executes one callback, capturing panics-by-error into a payload the
// model can recover from.
func runTool(ctx context.Context, handler ai.ToolHandler, args map[string]any) map[string]any {
	out, err := handler(ctx, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var parsed map[string]any
	if json.Unmarshal([]byte(out), &parsed) == nil {
		return parsed
	}
	return map[string]any{"result": out}
}

func responseContent(resp *genai.GenerateContentResponse) *genai.Content {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	return resp.Candidates[0].Content
}

func functionCalls(resp *genai.GenerateContentResponse) []*genai.FunctionCall {
	content := responseContent(resp)
	if content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, part := range content.Parts {
		if part != nil && part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}

// extractText splits visible text from thought parts.
func extractText(resp *genai.GenerateContentResponse) (text, thinking string) {
	content := responseContent(resp)
	if content == nil {
		return "", ""
	}
	var visible, thoughts []string
	for _, part := range content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			thoughts = append(thoughts, part.Text)
			continue
		}
		visible = append(visible, part.Text)
	}
	return strings.Join(visible, ""), strings.Join(thoughts, "\n")
}

// Embed produces a vector for text, capped at embedConcurrency in-flight
// calls. Empty text yields a nil vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	key, err := c.pool.next()
	if err != nil {
		return nil, err
	}
	resp, err := key.client.Models.EmbedContent(ctx, c.cfg.EmbedModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}}, nil)
	if err != nil {
		if c.cfg.FreeTierMode && isQuotaError(err) {
			c.pool.block(key)
		}
		return nil, errors.Wrap(err, "embed content failed")
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}
