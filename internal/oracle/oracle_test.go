package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/decision"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    decision.Decision
		wantErr error
	}{
		{
			name: "plain json",
			text: `{"chosen_option": "reflection", "focus": "the week", "motivation": "need it", "energy": 0.4}`,
			want: decision.Decision{ChosenOption: "reflection", Focus: "the week", Motivation: "need it", Energy: 0.4},
		},
		{
			name: "fenced with prose",
			text: "Sure!\n```json\n{\"chosen_option\": \"research\", \"energy\": \"0.8\"}\n```\nEnjoy.",
			want: decision.Decision{ChosenOption: "research", Energy: 0.8},
		},
		{
			name: "alias key",
			text: `{"choice": "creative_sketch", "reason": "playful"}`,
			want: decision.Decision{ChosenOption: "creative_sketch", Motivation: "playful"},
		},
		{
			name: "null means none",
			text: `{"chosen_option": null, "motivation": "tired"}`,
			want: decision.Decision{ChosenOption: decision.NoneOption, Motivation: "tired"},
		},
		{
			name: "truncated",
			text: `{"chosen_option": "research", "focus": "queues", "motiv`,
			want: decision.Decision{ChosenOption: "research", Focus: "queues"},
		},
		{
			name:    "no json",
			text:    "I would like to rest.",
			wantErr: ErrNoJSON,
		},
		{
			name:    "missing choice",
			text:    `{"focus": "x"}`,
			wantErr: ErrMissingField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision(tt.text)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePlan(t *testing.T) {
	text := "Here is the plan:\n" + `{
		"plan": {
			"Morning": [{"template_id": "reflection", "focus": "goals"}, "research"],
			"afternoon": [],
			"brunch": [{"template_id": "x"}],
			"evening": [{"id": "journal_review", "motivation": "close the day"}, {"focus": "no id"}]
		},
		"day_intention": "Be curious"
	}`

	plan, err := ParsePlan(text)
	require.NoError(t, err)
	assert.Equal(t, "Be curious", plan.Intention)
	assert.Equal(t, []decision.PlanEntry{
		{TemplateID: "reflection", Focus: "goals"},
		{TemplateID: "research"},
	}, plan.Phases[dayphase.Morning])
	assert.Empty(t, plan.Phases[dayphase.Afternoon])
	assert.Equal(t, []decision.PlanEntry{
		{TemplateID: "journal_review", Motivation: "close the day"},
	}, plan.Phases[dayphase.Evening])
	assert.Len(t, plan.Phases, 2)

	_, err = ParsePlan(`{"day_intention": "nothing"}`)
	assert.ErrorIs(t, err, ErrMissingField)
}

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func sampleRequest() decision.Request {
	return decision.Request{
		Identity:             "a careful researcher",
		EmotionalDescription: "mood neutral",
		GrowthEdges:          []string{"patience"},
		Options: []decision.Option{
			{ID: "reflection", Name: "Reflection", DurationMinutes: 30, Cost: 0.1, Score: 0.71},
			{ID: "research", Name: "Research", Description: "read papers", DurationMinutes: 45, Cost: 0.3, Score: 0.64},
		},
		Now: time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
		RemainingBudget: map[workunit.Category]float64{
			workunit.CategoryResearch:   1.5,
			workunit.CategoryReflection: 0.5,
		},
	}
}

func TestLLMOracle_Decide(t *testing.T) {
	fc := &fakeCompleter{reply: `{"chosen_option": "research", "focus": "queues"}`}
	o, err := New(fc, zap.NewNop())
	require.NoError(t, err)

	d, err := o.Decide(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "research", d.ChosenOption)

	assert.Contains(t, fc.prompt, "Who you are: a careful researcher")
	assert.Contains(t, fc.prompt, "- research: Research (read papers), ~45 min, $0.30, score 0.64")
	assert.Contains(t, fc.prompt, "Remaining budget: reflection $0.50, research $1.50")
	assert.Contains(t, fc.prompt, "Thursday 09:30")
	assert.Contains(t, fc.prompt, "Growth edges: patience")
}

func TestLLMOracle_Errors(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	o, err := New(&fakeCompleter{err: errors.New("network")}, nil)
	require.NoError(t, err)
	_, err = o.Decide(context.Background(), sampleRequest())
	assert.Error(t, err)

	o, err = New(&fakeCompleter{reply: "I'd rather not answer"}, nil)
	require.NoError(t, err)
	_, err = o.PlanDay(context.Background(), sampleRequest(), dayphase.Cycle())
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestLLMOracle_PlanDay(t *testing.T) {
	fc := &fakeCompleter{reply: `{"plan": {"evening": ["reflection"]}, "day_intention": "rest"}`}
	o, err := New(fc, nil)
	require.NoError(t, err)

	plan, err := o.PlanDay(context.Background(), sampleRequest(), []dayphase.Phase{dayphase.Evening, dayphase.Night})
	require.NoError(t, err)
	assert.Equal(t, "rest", plan.Intention)
	assert.Len(t, plan.Phases[dayphase.Evening], 1)
	assert.Contains(t, fc.prompt, "Phases to plan: evening, night")
}

func TestAnthropicCompleter_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "hello", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "{\"chosen_option\": \"none\"}"}]}`))
	}))
	defer server.Close()

	c, err := NewAnthropicCompleter(Config{APIKey: "test-key", Model: "test-model", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"chosen_option": "none"}`, out)
}

func TestAnthropicCompleter_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "ok"}]}`))
	}))
	defer server.Close()

	c, err := NewAnthropicCompleter(Config{
		APIKey:      "k",
		BaseURL:     server.URL,
		BaseBackoff: time.Millisecond,
		RateLimit:   1000,
	})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropicCompleter_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "bad model"}}`))
	}))
	defer server.Close()

	c, err := NewAnthropicCompleter(Config{APIKey: "k", BaseURL: server.URL, BaseBackoff: time.Millisecond})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropicCompleter_MaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, err := NewAnthropicCompleter(Config{
		APIKey:      "k",
		BaseURL:     server.URL,
		BaseBackoff: time.Millisecond,
		MaxRetries:  2,
		RateLimit:   1000,
	})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "max retries exceeded"))
}

func TestOpenAICompleter_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "hi"}}]}`))
	}))
	defer server.Close()

	c, err := NewCompleter(Config{Provider: "OpenAI", APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestNewCompleter_Validation(t *testing.T) {
	_, err := NewCompleter(Config{Provider: "anthropic"})
	assert.Error(t, err)
	_, err = NewCompleter(Config{Provider: "mystery", APIKey: "k"})
	assert.Error(t, err)
}
