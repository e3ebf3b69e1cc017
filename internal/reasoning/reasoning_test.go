package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/vinodismyname/datasavant/internal/dataset"
	"github.com/vinodismyname/datasavant/internal/ops"
	"github.com/vinodismyname/datasavant/internal/transcript"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want NextStep
	}{
		{"action input", "Thought: need the mean\nAction: python_repl_ast\nAction Input: mean(age)", Act("mean(age)")},
		{"action only", "Action: count()", Act("count()")},
		{"backticks", "Action Input: `mean(age)`", Act("mean(age)")},
		{"fence", "Action Input:\n```\ngroup(sex) | mean(age)\n```", Act("group(sex) | mean(age)")},
		{"fence with tag", "Action Input: ```text\nshape()\n```", Act("shape()")},
		{"hallucinated observation", "Action Input: mean(age)\nObservation: 34", Act("mean(age)")},
		{"final", "Thought: done\nFinal Answer: about 34.3 years", Finish("about 34.3 years")},
		{"final wins", "Action Input: mean(age)\nFinal Answer: 34.3", Finish("34.3")},
		{"case insensitive", "final answer: yes", Finish("yes")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseResponse(tc.text, false)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseResponse_Errors(t *testing.T) {
	for _, text := range []string{"", "   ", "I think the answer is 3", "Action Input:   ", "Action Input: ``", "Final Answer:  "} {
		_, err := ParseResponse(text, false)
		var pe *ParseError
		require.ErrorAs(t, err, &pe, text)
		require.Equal(t, text, pe.Raw)
	}
}

func TestParseResponse_Summarize(t *testing.T) {
	got, err := ParseResponse("The average age is roughly 34.", true)
	require.NoError(t, err)
	require.Equal(t, Finish("The average age is roughly 34."), got)

	got, err = ParseResponse("Thought: ok\nFinal Answer: 34", true)
	require.NoError(t, err)
	require.Equal(t, Finish("34"), got)

	_, err = ParseResponse(" ", true)
	require.Error(t, err)
}

type fakeModel struct {
	replies  []string
	err      error
	messages [][]llms.MessageContent
	opts     []llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var o llms.CallOptions
	for _, opt := range options {
		opt(&o)
	}
	f.messages = append(f.messages, messages)
	f.opts = append(f.opts, o)
	if f.err != nil {
		return nil, f.err
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func textOf(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(llms.TextContent); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func TestLLMEngine_Next(t *testing.T) {
	model := &fakeModel{replies: []string{"Thought: check\nAction Input: mean(age)", "Final Answer: 34.3"}}
	engine := NewLLMEngine(model)

	tr := transcript.New()
	req := Request{
		Question:    "What is the average age?",
		DatasetName: "people.csv",
		Rows:        3,
		Schema:      []dataset.Field{{Name: "name", Type: dataset.String}, {Name: "age", Type: dataset.Numeric}},
		Transcript:  tr,
	}
	step, err := engine.Next(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, Act("mean(age)"), step)

	require.NoError(t, tr.AppendAction("mean(age)", ops.Observation{Text: "mean(age) = 34.3333"}))
	step, err = engine.Next(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, Finish("34.3"), step)

	require.Len(t, model.messages, 2)
	system := textOf(model.messages[0][0])
	require.Equal(t, llms.ChatMessageTypeSystem, model.messages[0][0].Role)
	require.Contains(t, system, `"people.csv" (3 rows)`)
	require.Contains(t, system, "- age (numeric)")
	require.Contains(t, system, "value_counts(col)")

	human := textOf(model.messages[1][1])
	require.Contains(t, human, "Question: What is the average age?")
	require.Contains(t, human, "Action Input: mean(age)\nObservation: mean(age) = 34.3333")
	require.Zero(t, model.opts[0].Temperature)
}

func TestLLMEngine_SummarizePrompt(t *testing.T) {
	model := &fakeModel{replies: []string{"Probably 34."}}
	step, err := NewLLMEngine(model).Next(context.Background(), Request{Question: "avg?", Summarize: true, Transcript: transcript.New()})
	require.NoError(t, err)
	require.Equal(t, Finish("Probably 34."), step)
	require.Contains(t, textOf(model.messages[0][1]), "run out of steps")
}

func TestLLMEngine_Errors(t *testing.T) {
	boom := errors.New("rate limited")
	_, err := NewLLMEngine(&fakeModel{err: boom}).Next(context.Background(), Request{Question: "q"})
	require.ErrorIs(t, err, boom)

	_, err = NewLLMEngine(&fakeModel{replies: []string{"no idea"}}).Next(context.Background(), Request{Question: "q"})
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "no idea", pe.Raw)
}

func TestFactories_RequireCredentials(t *testing.T) {
	_, err := OpenAIFactory("gpt-4o-mini", "")(Credentials{APIKey: "  "})
	require.ErrorIs(t, err, ErrMissingCredentials)

	engine, err := OpenAIFactory("gpt-4o-mini", "http://localhost:1/v1")(Credentials{APIKey: "sk-test"})
	require.NoError(t, err)
	require.NotNil(t, engine)

	static := EngineFunc(func(context.Context, Request) (NextStep, error) { return Finish("x"), nil })
	_, err = StaticFactory(static)(Credentials{})
	require.ErrorIs(t, err, ErrMissingCredentials)
	got, err := StaticFactory(static)(Credentials{APIKey: "k"})
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCredentials_StringRedacts(t *testing.T) {
	require.NotContains(t, Credentials{APIKey: "sk-secret"}.String(), "sk-secret")
}
