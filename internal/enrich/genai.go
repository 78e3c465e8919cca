package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

const suggestPrompt = `You name components of a software architecture model.
For each node in the input, propose a short human-readable label (at most
five words) and a one-sentence summary of its responsibility, judging from
its name, layer, and the file paths it contains.
Respond with a JSON array of objects {"node_id", "label", "summary"}.
Use exactly the node_id values given. Do not invent nodes.`

// GenAIProvider suggests labels and summaries via the Gemini API.
type GenAIProvider struct {
	cli         *genai.Client
	model       string
	temperature float64
	audit       *AuditLog
}

// NewGenAIProvider builds a Gemini-backed provider. audit may be nil.
func NewGenAIProvider(ctx context.Context, apiKey, model string, temperature float64, audit *AuditLog) (*GenAIProvider, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GenAIProvider{cli: cli, model: model, temperature: temperature, audit: audit}, nil
}

func (p *GenAIProvider) Name() string { return "genai:" + p.model }

func (p *GenAIProvider) Suggest(ctx context.Context, drafts []Draft) ([]Suggestion, error) {
	in, err := json.MarshalIndent(drafts, "", "  ")
	if err != nil {
		return nil, err
	}
	full := suggestPrompt + "\n\n[INPUT JSON]\n" + string(in)

	rec := AuditRecord{
		Provider:         p.Name(),
		Model:            p.model,
		Temperature:      p.temperature,
		PromptHash:       PromptHash(suggestPrompt),
		InputEvidenceIDs: evidenceIDs(drafts),
		Request:          full,
	}

	temp := float32(p.temperature)
	resp, err := p.cli.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      &temp,
		},
	)
	if err != nil {
		rec.Error = err.Error()
		_ = p.audit.Append(rec)
		return nil, fmt.Errorf("genai generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		rec.Error = "empty response"
		_ = p.audit.Append(rec)
		return nil, fmt.Errorf("genai generate: empty response")
	}

	text := resp.Candidates[0].Content.Parts[0].Text
	rec.Response = text
	if err := p.audit.Append(rec); err != nil {
		return nil, err
	}

	var suggestions []Suggestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &suggestions); err != nil {
		return nil, fmt.Errorf("genai response: %w", err)
	}
	return suggestions, nil
}

func evidenceIDs(drafts []Draft) []string {
	var ids []string
	for _, d := range drafts {
		ids = append(ids, d.EvidenceIDs...)
	}
	return ids
}
