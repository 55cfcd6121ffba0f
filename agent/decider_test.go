package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleDecider_Decide(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantTool bool
		wantA    int
		wantB    int
	}{
		{name: "english add", input: "add 10 and 32", wantTool: true, wantA: 10, wantB: 32},
		{name: "uppercase keyword", input: "Please ADD 3 to 4", wantTool: true, wantA: 3, wantB: 4},
		{name: "sum with extra numbers", input: "sum 1, 2 and 3", wantTool: true, wantA: 1, wantB: 2},
		{name: "japanese", input: "5たす7は?", wantTool: true, wantA: 5, wantB: 7},
		{name: "japanese kanji", input: "12と30を足して", wantTool: true, wantA: 12, wantB: 30},
		{name: "keyword with one number", input: "add 10", wantTool: false},
		{name: "numbers without keyword", input: "10 and 32", wantTool: false},
		{name: "chit chat", input: "hello there", wantTool: false},
	}

	d := NewRuleDecider()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := d.Decide(context.Background(), "", tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTool, decision.UseTool)
			if !tt.wantTool {
				assert.Equal(t, DefaultRuleReply, decision.FinalResponse)
				return
			}
			assert.Equal(t, AddToolName, decision.ToolName)
			assert.Equal(t, map[string]interface{}{"a": tt.wantA, "b": tt.wantB}, decision.ToolArgs)
		})
	}
}

type scriptedProvider struct {
	replies []string
	err     error
	systems []string
	prompts []string
}

func (p *scriptedProvider) GenerateResponse(ctx context.Context, system, prompt string, options *RequestOptions) (string, error) {
	p.systems = append(p.systems, system)
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "", ErrEmptyResponse
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return reply, nil
}

func TestNewLLMDecider_NilProvider(t *testing.T) {
	d, err := NewLLMDecider(nil, nil, nil)
	assert.Error(t, err)
	assert.Nil(t, d)
}

func TestLLMDecider_Decide(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		want      *Decision
		wantError error
	}{
		{
			name:  "plain json tool call",
			reply: `{"thought":"need addition","use_tool":true,"tool_name":"add_numbers","tool_args":{"a":1,"b":2}}`,
			want: &Decision{Thought: "need addition", UseTool: true, ToolName: "add_numbers",
				ToolArgs: map[string]interface{}{"a": float64(1), "b": float64(2)}},
		},
		{
			name:  "fenced json answer",
			reply: "Here you go:\n```json\n{\"thought\":\"greeting\",\"use_tool\":false,\"final_response\":\"Hi!\",\"tool_name\":null}\n```",
			want:  &Decision{Thought: "greeting", FinalResponse: "Hi!"},
		},
		{
			name:  "fence without language",
			reply: "```\n{\"thought\":\"t\",\"use_tool\":false}\n```",
			want:  &Decision{Thought: "t"},
		},
		{
			name:      "missing required field",
			reply:     `{"thought":"no flag"}`,
			wantError: ErrInvalidDecision,
		},
		{
			name:      "wrong type",
			reply:     `{"thought":"x","use_tool":"yes"}`,
			wantError: ErrInvalidDecision,
		},
		{
			name:      "tool without name",
			reply:     `{"thought":"x","use_tool":true}`,
			wantError: ErrInvalidDecision,
		},
		{
			name:      "not json",
			reply:     "I think you should add them.",
			wantError: ErrInvalidDecision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{replies: []string{tt.reply}}
			d, err := NewLLMDecider(provider, nil, nil)
			require.NoError(t, err)

			got, err := d.Decide(context.Background(), "You are a calculator.", "add 1 and 2")
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			require.Len(t, provider.systems, 1)
			assert.True(t, strings.HasPrefix(provider.systems[0], "You are a calculator."))
			assert.Contains(t, provider.systems[0], "You MUST respond with a VALID JSON object")
			assert.Equal(t, "add 1 and 2", provider.prompts[0])
		})
	}
}

func TestLLMDecider_ProviderError(t *testing.T) {
	d, err := NewLLMDecider(&scriptedProvider{err: errors.New("quota exceeded")}, nil, nil)
	require.NoError(t, err)

	_, err = d.Decide(context.Background(), "sys", "hi")
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestLLMDecider_Summarize(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"thought":"done","use_tool":false,"final_response":"10 plus 32 is 42."}`}}
	d, err := NewLLMDecider(provider, nil, nil)
	require.NoError(t, err)

	got, err := d.Summarize(context.Background(), "add 10 and 32", "42")
	require.NoError(t, err)
	assert.Equal(t, "10 plus 32 is 42.", got)
	assert.Contains(t, provider.prompts[0], "Original User Request: add 10 and 32")
	assert.Contains(t, provider.prompts[0], "Tool Execution Result: 42")
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("  {\"a\":1}\n"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("prefix ```{\"a\":1}``` suffix"))
}
