package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

const (
	summarizeInstruction = "Rewrite the draft into a clear, neutral summary for policy analysts. " +
		"Preserve facts. Use 2-4 sentences. No bullets. No opinions."
	dateInstruction = "You are a strict parser. Given the plain text of a government notice, " +
		"extract its publication date. Return exactly ONE line in the format YYYY-MM-DD, " +
		"or the word 'unknown' if you cannot determine it. Do not add extra text."
	impactInstruction = "You output only strict JSON. No markdown. No extra keys beyond the schema. " +
		"Be conservative and avoid speculation."
	impactSchema = `You are a policy impact analyst. Based ONLY on the given title and summary, estimate which industries may be affected and whether the impact is positive or negative.

JSON schema:
{
  "score": number,        // in [-1, 1]; negative = likely negative economic impact
  "industries": [
    {"name": string, "direction": "positive" | "negative" | "mixed", "magnitude": number, "confidence": number, "why": string}
  ],
  "tags": [string],       // 0..8 short tags
  "overall_why": string   // <= 260 chars
}

Rules:
- Use 0-5 industries max.
- If unclear, set score=0 and industries=[].
- Do not invent facts.`

	draftLimit  = 2000
	textLimit   = 8000
	impactLimit = 2500

	maxIndustries   = 5
	maxTags         = 8
	maxIndustryWhy  = 220
	maxOverallWhy   = 260
	defaultMaxToken = 512
)

// errNoText is returned when the model produced no text parts.
var errNoText = errors.New("no text in model response")

// generateFunc sends one prompt with a system instruction and returns the
// text. jsonOutput asks the model for an application/json response.
type generateFunc func(ctx context.Context, instruction, prompt string, jsonOutput bool) (string, error)

// Gemini implements ingest.Enricher on Google's Gemini models.
type Gemini struct {
	model    string
	generate generateFunc
	close    func() error
}

// NewGemini creates a Gemini enricher for model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{
		model: model,
		generate: func(ctx context.Context, instruction, prompt string, jsonOutput bool) (string, error) {
			m := client.GenerativeModel(model)
			m.SetTemperature(0.2)
			m.SetMaxOutputTokens(defaultMaxToken)
			m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instruction)}}
			if jsonOutput {
				m.ResponseMIMEType = "application/json"
			}
			resp, err := m.GenerateContent(ctx, genai.Text(prompt))
			if err != nil {
				return "", fmt.Errorf("generate content: %w", err)
			}
			return responseText(resp)
		},
		close: client.Close,
	}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

// Summarize polishes an extractive draft.
func (g *Gemini) Summarize(ctx context.Context, title, body string) (string, error) {
	prompt := fmt.Sprintf("TITLE: %s\n\nDRAFT SUMMARY:\n%s", title, clip(body, draftLimit))
	out, err := g.generate(ctx, summarizeInstruction, prompt, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ExtractDate asks for a single YYYY-MM-DD line. "unknown" yields nil; any
// other shape is an error.
func (g *Gemini) ExtractDate(ctx context.Context, body, urlHint string) (*time.Time, error) {
	prompt := fmt.Sprintf("URL: %s\n\nText:\n%s", urlHint, clip(body, textLimit))
	out, err := g.generate(ctx, dateInstruction, prompt, false)
	if err != nil {
		return nil, err
	}
	return parseDateLine(out)
}

// ScoreImpact asks for a strict-JSON impact estimate of a summarized notice.
// Out-of-range numbers are clamped and lists are truncated; output that is
// not JSON is an error.
func (g *Gemini) ScoreImpact(ctx context.Context, title, url, summary string) (*ingest.Impact, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, nil
	}
	prompt := fmt.Sprintf("%s\n\nTITLE: %s\nURL: %s\n\nSUMMARY:\n%s", impactSchema, title, url, clip(summary, impactLimit))
	out, err := g.generate(ctx, impactInstruction, prompt, true)
	if err != nil {
		return nil, err
	}
	impact, err := parseImpact(out)
	if err != nil {
		return nil, err
	}
	impact.Model = g.model
	return impact, nil
}

func parseImpact(out string) (*ingest.Impact, error) {
	text := stripCodeFences(out)
	if text == "" {
		return nil, errNoText
	}
	var impact ingest.Impact
	if err := json.Unmarshal([]byte(text), &impact); err != nil {
		return nil, fmt.Errorf("decode impact json: %w", err)
	}
	impact.Score = clamp(impact.Score, -1, 1)
	if len(impact.Industries) > maxIndustries {
		impact.Industries = impact.Industries[:maxIndustries]
	}
	for i := range impact.Industries {
		ind := &impact.Industries[i]
		ind.Magnitude = clamp(ind.Magnitude, 0, 1)
		ind.Confidence = clamp(ind.Confidence, 0, 1)
		ind.Why = clip(ind.Why, maxIndustryWhy)
	}
	if len(impact.Tags) > maxTags {
		impact.Tags = impact.Tags[:maxTags]
	}
	if impact.Industries == nil {
		impact.Industries = []ingest.IndustryImpact{}
	}
	if impact.Tags == nil {
		impact.Tags = []string{}
	}
	impact.OverallWhy = clip(impact.OverallWhy, maxOverallWhy)
	return &impact, nil
}

func stripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.Trim(t, "`")
	if len(t) >= 4 && strings.EqualFold(t[:4], "json") {
		t = t[4:]
	}
	return strings.TrimSpace(t)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func parseDateLine(out string) (*time.Time, error) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "`\"' .")
	if line == "" || strings.EqualFold(line, "unknown") {
		return nil, nil
	}
	ts, err := time.Parse("2006-01-02", line)
	if err != nil {
		return nil, fmt.Errorf("parse model date %q: %w", line, err)
	}
	return &ts, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errNoText
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", errNoText
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", errNoText
	}
	return strings.Join(parts, ""), nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
