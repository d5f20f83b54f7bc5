// Package generate turns natural-language requests into candidate commands.
//
// Output is fully untrusted: callers must route every candidate through the
// admission gate before registering it.
package generate

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/conjurehq/conjure/pkg/types"
)

// Candidate is a proposed command. Name and Description are advisory;
// Source must still pass admission.
type Candidate struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

// Generator produces a candidate command from a natural-language request.
type Generator interface {
	Generate(ctx context.Context, request string) (Candidate, error)
}

const systemPrompt = `You write Lua command handlers for a chat platform.
The handler must be a single top-level function:

    function run(ctx)

ctx provides: ctx.args (string map of invocation arguments), ctx.reply(msg),
ctx.log(msg), ctx.id, ctx.tenant, ctx.command. The function may return a
string as its result. Only the base, table, string, math and coroutine
libraries are available. Never use load, loadstring, loadfile, dofile or
require, and never touch names starting with two underscores.

Respond in exactly this format:

NAME: <short-lowercase-name>
DESCRIPTION: <one line>
` + "```lua\n<the code>\n```"

// ModelGenerator asks a chat model for candidates.
type ModelGenerator struct {
	chatModel model.BaseChatModel
}

// New creates a generator from configuration. The API key falls back to
// OPENAI_API_KEY.
func New(ctx context.Context, cfg types.GeneratorConfig) (*ModelGenerator, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("generator API key not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = "gpt-4o"
	}

	mcfg := &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  modelID,
	}
	if cfg.BaseURL != "" {
		mcfg.BaseURL = cfg.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, mcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return &ModelGenerator{chatModel: chatModel}, nil
}

// NewWithModel creates a generator over an existing chat model.
func NewWithModel(m model.BaseChatModel) *ModelGenerator {
	return &ModelGenerator{chatModel: m}
}

func (g *ModelGenerator) Generate(ctx context.Context, request string) (Candidate, error) {
	resp, err := g.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(request),
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("generation failed: %w", err)
	}
	return ParseCandidate(resp.Content)
}
