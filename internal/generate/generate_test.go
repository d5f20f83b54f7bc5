package generate

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedModel replays a fixed response.
type cannedModel struct {
	content string
	err     error
}

func (m *cannedModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.content, nil), nil
}

func (m *cannedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func TestGenerateParsesWellFormedResponse(t *testing.T) {
	g := NewWithModel(&cannedModel{content: "NAME: greet\nDESCRIPTION: greets the caller\n```lua\nfunction run(ctx) return \"hi\" end\n```"})

	c, err := g.Generate(context.Background(), "make a greeting command")
	require.NoError(t, err)
	assert.Equal(t, "greet", c.Name)
	assert.Equal(t, "greets the caller", c.Description)
	assert.Equal(t, `function run(ctx) return "hi" end`, c.Source)
}

func TestGenerateModelError(t *testing.T) {
	g := NewWithModel(&cannedModel{err: errors.New("rate limited")})
	_, err := g.Generate(context.Background(), "anything")
	assert.Error(t, err)
}

func TestParseCandidateUnfencedCode(t *testing.T) {
	c, err := ParseCandidate("function run(ctx)\n  return \"ok\"\nend")
	require.NoError(t, err)
	assert.Contains(t, c.Source, "function run(ctx)")
	assert.Equal(t, "command", c.Name)
}

func TestParseCandidateBareFence(t *testing.T) {
	c, err := ParseCandidate("NAME: Echo_Cmd\n```\nfunction run(ctx) return ctx.args.text end\n```")
	require.NoError(t, err)
	assert.Equal(t, "echo-cmd", c.Name)
	assert.Contains(t, c.Source, "ctx.args.text")
}

func TestParseCandidateNameFromDescription(t *testing.T) {
	c, err := ParseCandidate("DESCRIPTION: Dice roller for games\n```lua\nfunction run(ctx) return math.random(6) end\n```")
	require.NoError(t, err)
	assert.Equal(t, "dice", c.Name)
	assert.Equal(t, "Dice roller for games", c.Description)
}

func TestParseCandidateNoCode(t *testing.T) {
	_, err := ParseCandidate("Sorry, I cannot help with that.")
	assert.ErrorIs(t, err, ErrNoCode)
}
