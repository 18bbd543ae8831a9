package ai

import "context"

// Part is one piece of a conversation turn: text or inline media.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart builds a text-only part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// Turn is one conversation turn sent to the generator.
type Turn struct {
	Role  string // "user" or "model"
	Parts []Part
}

// ToolHandler executes one tool call. It returns a string; the gateway parses
// it as JSON when possible before handing it back to the model. An error is
// captured and returned to the model as {"error": ...}, never raised.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// ParamSpec describes one parameter of a tool in a minimal JSON-schema form.
type ParamSpec struct {
	Type        string // "string", "number", "integer", "boolean"
	Description string
	Required    bool
}

// ToolSpec declares a tool available to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]*ParamSpec
}

// GenerateRequest is one generation call.
type GenerateRequest struct {
	SystemPrompt  string
	History       []Turn
	UserParts     []Part
	Tools         []ToolSpec
	ToolCallbacks map[string]ToolHandler
}

// GenerateResult is the visible outcome of one generation call.
type GenerateResult struct {
	Text       string
	Thinking   string
	ToolsUsed  []string
	TokenCount int
}

// Generator is the LLM gateway generation primitive.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// Embedder produces semantic vectors. Empty input yields a nil vector and no
// error.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
