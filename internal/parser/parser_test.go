package parser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type reply struct {
	text string
	err  error
}

// fakeGenerator returns scripted replies per model in call order.
type fakeGenerator struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []string
	parts   [][]*genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, model)
	f.parts = append(f.parts, contents[0].Parts)

	queue := f.replies[model]
	if len(queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	r := queue[0]
	f.replies[model] = queue[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: r.text}}}}},
	}, nil
}

type memoryRecorder struct {
	outputs []ModelOutput
}

func (m *memoryRecorder) RecordModelOutput(ctx context.Context, out ModelOutput) error {
	m.outputs = append(m.outputs, out)
	return nil
}

func newTestParser(gen *fakeGenerator) (*GeminiParser, *[]time.Duration) {
	p := newParser(gen, Config{Models: []string{"primary", "fallback"}, MaxRetries: 3, BaseDelay: time.Second})
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	p.now = func() time.Time { return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) }
	return p, &slept
}

const transferReply = "```json\n{\"amount\": 500000, \"transaction_type\": \"Transfer\", \"account\": \"BCA\", \"destination_account\": \"Jago\", \"confidence\": 0.9}\n```"

func TestParse_Success(t *testing.T) {
	gen := &fakeGenerator{replies: map[string][]reply{"primary": {{text: transferReply}}}}
	p, _ := newTestParser(gen)
	rec := &memoryRecorder{}
	p.WithRecorder(rec)

	c, err := p.Parse(context.Background(), Input{Text: "transfer 500k bca ke jago"}, domain.Reference{})
	require.NoError(t, err)

	assert.Equal(t, "transfer 500k bca ke jago", c.RawText)
	assert.Equal(t, "Transfer", c.Fields["transaction_type"])
	assert.Equal(t, json.Number("500000"), c.Fields["amount"])
	assert.Equal(t, []string{"primary"}, gen.calls)

	require.Len(t, rec.outputs, 1)
	assert.Equal(t, "primary", rec.outputs[0].Model)
	assert.NoError(t, rec.outputs[0].Err)
	assert.NotEmpty(t, rec.outputs[0].ID)
}

func TestParse_RateLimitBackoffThenFallback(t *testing.T) {
	limited := genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}
	gen := &fakeGenerator{replies: map[string][]reply{
		"primary":  {{err: limited}, {err: limited}, {err: limited}},
		"fallback": {{text: transferReply}},
	}}
	p, slept := newTestParser(gen)

	_, err := p.Parse(context.Background(), Input{Text: "x"}, domain.Reference{})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "primary", "primary", "fallback"}, gen.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestParse_OtherErrorsFallBackImmediately(t *testing.T) {
	gen := &fakeGenerator{replies: map[string][]reply{
		"primary":  {{err: genai.APIError{Code: 500, Message: "internal"}}},
		"fallback": {{err: errors.New("model not found")}},
	}}
	p, slept := newTestParser(gen)

	_, err := p.Parse(context.Background(), Input{Text: "x"}, domain.Reference{})
	assert.True(t, errors.Is(err, domain.ErrParseFailure))
	assert.Contains(t, err.Error(), "model not found")
	assert.Equal(t, []string{"primary", "fallback"}, gen.calls)
	assert.Empty(t, *slept)
}

func TestParse_GarbageReply(t *testing.T) {
	gen := &fakeGenerator{replies: map[string][]reply{"primary": {{text: "Sorry, I cannot help with that."}}}}
	p, _ := newTestParser(gen)
	rec := &memoryRecorder{}
	p.WithRecorder(rec)

	_, err := p.Parse(context.Background(), Input{Text: "hello"}, domain.Reference{})
	assert.True(t, errors.Is(err, domain.ErrParseFailure))
	require.Len(t, rec.outputs, 1)
	assert.Error(t, rec.outputs[0].Err)
	assert.Equal(t, "Sorry, I cannot help with that.", rec.outputs[0].Raw)
}

func TestParse_EmptyInput(t *testing.T) {
	p, _ := newTestParser(&fakeGenerator{})
	_, err := p.Parse(context.Background(), Input{Text: "  "}, domain.Reference{})
	assert.True(t, errors.Is(err, domain.ErrParseFailure))
}

func TestParse_ImageIsInlined(t *testing.T) {
	gen := &fakeGenerator{replies: map[string][]reply{"primary": {{text: transferReply}}}}
	p, _ := newTestParser(gen)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	_, err := p.Parse(context.Background(), Input{Image: png}, domain.Reference{})
	require.NoError(t, err)

	require.Len(t, gen.parts[0], 2)
	assert.Contains(t, gen.parts[0][0].Text, "(No text message, only image)")
	assert.Equal(t, "image/png", gen.parts[0][1].InlineData.MIMEType)
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"chatter", "Here you go: {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`},
		{"no json", "nothing", "nothing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.in))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	ref := domain.Reference{
		Categories: []domain.Category{
			{Category: "Food", Subcategory: "Groceries"},
			{Category: "Food", Subcategory: "Dining"},
			{Category: "Bills"},
		},
		Accounts: []domain.Account{{Name: "BCA", Type: "Bank", Currency: "IDR"}},
		Portfolio: []domain.PortfolioPosition{
			{Account: "Stockbit", Symbol: "BBCA", Shares: decimal.NewFromInt(100), AvgPrice: decimal.NewFromInt(9000), Currency: "IDR"},
			{Account: "Stockbit", Symbol: "GOTO", Shares: decimal.Zero, AvgPrice: decimal.NewFromInt(50), Currency: "IDR"},
		},
	}
	prompt := BuildPrompt(ref, "makan 50k", time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))

	assert.Contains(t, prompt, "CURRENT DATE: 2025-03-01 09:30")
	assert.Contains(t, prompt, "- Bills\n- Food: Groceries, Dining\n")
	assert.Contains(t, prompt, "- BCA (Bank, IDR)")
	assert.Contains(t, prompt, "BBCA in Stockbit: 100 shares @")
	assert.NotContains(t, prompt, "GOTO", "closed positions are left out")
	assert.True(t, strings.Contains(prompt, "USER MESSAGE: makan 50k"))
}
