// Package parser turns free-text messages and receipt images into
// transaction candidates using Gemini.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/logger"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

// DefaultModels is the fallback chain used when none is configured.
var DefaultModels = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}

// Input is one inbound message.
type Input struct {
	Text          string
	Image         []byte
	ImageMIMEType string
}

// ModelOutput is the raw reply of one model call, kept for audit.
type ModelOutput struct {
	ID        string
	Model     string
	Input     string
	Raw       string
	Err       error
	CreatedAt time.Time
}

// OutputRecorder stores model outputs. Recording failures never fail a parse.
type OutputRecorder interface {
	RecordModelOutput(ctx context.Context, out ModelOutput) error
}

// generator is the subset of genai.Models the parser calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config holds parser settings.
type Config struct {
	APIKey string
	Models []string
	// MaxRetries is the number of attempts per model on rate limiting.
	MaxRetries int
	BaseDelay  time.Duration
}

// GeminiParser implements the AI parser with a model fallback chain.
type GeminiParser struct {
	gen      generator
	cfg      Config
	recorder OutputRecorder
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGeminiParser creates a parser backed by the Gemini API.
func NewGeminiParser(ctx context.Context, cfg Config) (*GeminiParser, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewGeminiParser: GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiParser: create genai client: %w", err)
	}
	return newParser(client.Models, cfg), nil
}

func newParser(gen generator, cfg Config) *GeminiParser {
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &GeminiParser{gen: gen, cfg: cfg, now: time.Now, sleep: sleepContext}
}

// WithRecorder sets the recorder for raw model outputs.
func (p *GeminiParser) WithRecorder(r OutputRecorder) *GeminiParser {
	p.recorder = r
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Parse extracts a candidate from in. The reference data constrains the
// accounts and categories the model may answer with. Failures wrap
// domain.ErrParseFailure.
func (p *GeminiParser) Parse(ctx context.Context, in Input, ref domain.Reference) (domain.Candidate, error) {
	log := logger.FromContext(ctx)

	if strings.TrimSpace(in.Text) == "" && len(in.Image) == 0 {
		return domain.Candidate{}, fmt.Errorf("Parse: empty message: %w", domain.ErrParseFailure)
	}

	today := ref.Today
	if today.IsZero() {
		today = p.now()
	}
	parts := []*genai.Part{{Text: BuildPrompt(ref, in.Text, today)}}
	if len(in.Image) > 0 {
		mime := in.ImageMIMEType
		if mime == "" {
			mime = http.DetectContentType(in.Image)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: in.Image}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
	}

	raw, model, err := p.generate(ctx, contents, config)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("Parse: %w: %w", domain.ErrParseFailure, err)
	}

	fields, err := decodeCandidate(raw)
	p.record(ctx, ModelOutput{Model: model, Input: in.Text, Raw: raw, Err: err})
	if err != nil {
		log.Error().Err(err).Str("model", model).Str("raw", raw).Msg("Model reply is not a transaction object")
		return domain.Candidate{}, fmt.Errorf("Parse: %w: %w", domain.ErrParseFailure, err)
	}

	log.Info().Str("model", model).Msg("Message parsed")
	return domain.Candidate{Fields: fields, RawText: in.Text}, nil
}

// generate walks the model chain. Rate limited calls are retried on the same
// model with exponential backoff before falling back; other errors fall back
// at once.
func (p *GeminiParser) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, string, error) {
	log := logger.FromContext(ctx)

	var lastErr error
	for _, model := range p.cfg.Models {
		delay := p.cfg.BaseDelay
		for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
			log.Debug().Str("model", model).Int("attempt", attempt).Msg("Calling model")

			resp, err := p.gen.GenerateContent(ctx, model, contents, config)
			if err == nil {
				text := resp.Text()
				if strings.TrimSpace(text) != "" {
					return text, model, nil
				}
				err = errors.New("empty response from model")
			}
			lastErr = fmt.Errorf("%s: %w", model, err)

			if ctx.Err() != nil {
				return "", model, ctx.Err()
			}
			if !isRateLimited(err) {
				log.Warn().Err(err).Str("model", model).Msg("Model call failed, trying fallback")
				break
			}
			if attempt == p.cfg.MaxRetries {
				log.Warn().Str("model", model).Msg("Rate limit exceeded, trying fallback model")
				break
			}
			log.Warn().Str("model", model).Dur("backoff", delay).Msg("Rate limited, retrying")
			if err := p.sleep(ctx, delay); err != nil {
				return "", model, err
			}
			delay *= 2
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return "", "", fmt.Errorf("all models failed: %w", lastErr)
}

func isRateLimited(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return true
		}
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "resource_exhausted") || strings.Contains(s, "quota")
}

func (p *GeminiParser) record(ctx context.Context, out ModelOutput) {
	if p.recorder == nil {
		return
	}
	out.ID = uuid.NewString()
	out.CreatedAt = p.now()
	if err := p.recorder.RecordModelOutput(ctx, out); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Recording model output failed")
	}
}

// decodeCandidate reads the model reply as a single JSON object. Numbers
// are kept as json.Number so amounts are not rounded through float64.
func decodeCandidate(raw string) (map[string]interface{}, error) {
	clean := cleanModelJSON(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(fields) == 0 {
		return nil, errors.New("model returned an empty object")
	}
	return fields, nil
}

// cleanModelJSON strips Markdown fences and any text around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
