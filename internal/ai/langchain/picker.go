// Package langchain implements the ai.Picker boundary with a langchaingo
// model. The model is prompted with the session snapshot and must answer
// with a small JSON document; malformed output goes through jsonrepair
// before we give up on it.
package langchain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/codereader/internal/ai"
	"github.com/codereader/internal/config"
	"github.com/codereader/internal/session"
)

// Picker implements ai.Picker on top of a langchaingo model.
type Picker struct {
	llm         llms.Model
	temperature float64
	maxTokens   int
}

// New creates a picker for the configured model provider.
func New(ctx context.Context, cfg *config.Config) (*Picker, error) {
	var model llms.Model
	var err error

	switch cfg.Model.Provider {
	case "openai":
		model, err = openai.New(
			openai.WithModel(cfg.Model.Name),
			openai.WithToken(cfg.Model.APIKey),
		)
	case "googleai":
		model, err = googleai.New(ctx, googleai.WithAPIKey(cfg.Model.APIKey))
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Model.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", cfg.Model.Provider, err)
	}

	return &Picker{
		llm:         model,
		temperature: cfg.Model.Temperature,
		maxTokens:   cfg.Model.MaxTokens,
	}, nil
}

// NewWithModel wraps an existing model, used by tests.
func NewWithModel(model llms.Model) *Picker {
	return &Picker{llm: model, temperature: 0.2, maxTokens: 2048}
}

// PickNextFile asks the model for the next file to read.
func (p *Picker) PickNextFile(ctx context.Context, snap session.Snapshot) (ai.Decision, error) {
	prompt := buildPickPrompt(snap)

	response, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt,
		llms.WithTemperature(p.temperature),
		llms.WithMaxTokens(p.maxTokens),
	)
	if err != nil {
		return ai.Decision{}, fmt.Errorf("model call failed: %w", err)
	}

	decision, err := parseDecision(response)
	if err != nil {
		return ai.Decision{}, fmt.Errorf("failed to parse model decision: %w", err)
	}
	return decision, nil
}

// Analyze asks the model to summarize one file against the session goal.
func (p *Picker) Analyze(ctx context.Context, snap session.Snapshot, path, content string) (string, error) {
	prompt := buildAnalyzePrompt(snap, path, content)

	response, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt,
		llms.WithTemperature(p.temperature),
		llms.WithMaxTokens(p.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	return strings.TrimSpace(response), nil
}

func buildPickPrompt(snap session.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are exploring the repository %s/%s one file at a time.\n", snap.RepoOwner, snap.RepoName)
	fmt.Fprintf(&b, "Goal: %s\n", snap.Goal)
	if snap.ScopeHint != "" {
		fmt.Fprintf(&b, "Scope hint: %s\n", snap.ScopeHint)
	}
	for _, c := range snap.Clarifications {
		fmt.Fprintf(&b, "Clarification from the user: %s\n", c)
	}

	if done := snap.DoneFiles(); len(done) > 0 {
		b.WriteString("\nFiles already understood:\n")
		for _, f := range done {
			fmt.Fprintf(&b, "- %s: %s\n", f.Path, f.Understanding)
		}
	}

	var ignored []string
	for _, f := range snap.Files {
		if f.Status == session.StatusIgnored {
			ignored = append(ignored, f.Path)
		}
	}
	if len(ignored) > 0 {
		fmt.Fprintf(&b, "\nFiles the user rejected, do not suggest them again: %s\n", strings.Join(ignored, ", "))
	}

	if snap.PreviousWrongPath != "" {
		fmt.Fprintf(&b, "\nYour previous suggestion %q did not resolve to a file. Suggest an exact existing path this time.\n", snap.PreviousWrongPath)
	}

	b.WriteString(`
Answer with a single JSON object and nothing else. Either:
{"decision": "next_file", "next_file": {"path": "<exact file path>", "reason": "<why this file>"}}
or, if you cannot choose without more information:
{"decision": "need_more_info", "question": "<what you need to know>"}
`)

	return b.String()
}

func buildAnalyzePrompt(snap session.Snapshot, path, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are exploring the repository %s/%s.\n", snap.RepoOwner, snap.RepoName)
	fmt.Fprintf(&b, "Goal: %s\n\n", snap.Goal)
	fmt.Fprintf(&b, "Explain what the file %s contributes toward that goal. Be concrete and brief.\n\n", path)
	fmt.Fprintf(&b, "```\n%s\n```\n", content)
	return b.String()
}

// parseDecision extracts the decision JSON from a model response. Models
// like to wrap JSON in markdown fences or prose; repair before rejecting.
func parseDecision(response string) (ai.Decision, error) {
	candidate := extractJSON(response)

	var decision ai.Decision
	if err := json.Unmarshal([]byte(candidate), &decision); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return ai.Decision{}, fmt.Errorf("response is not valid JSON (%v) and repair failed: %w", err, repairErr)
		}
		log.Debug().Msg("model decision needed JSON repair")
		if err := json.Unmarshal([]byte(repaired), &decision); err != nil {
			return ai.Decision{}, fmt.Errorf("repaired response still not a decision: %w", err)
		}
	}

	switch decision.Kind {
	case ai.DecisionNextFile:
		if decision.NextFile.Path == "" {
			return ai.Decision{}, fmt.Errorf("next_file decision is missing the path")
		}
	case ai.DecisionNeedInfo:
		if decision.Question == "" {
			return ai.Decision{}, fmt.Errorf("need_more_info decision is missing the question")
		}
	default:
		return ai.Decision{}, fmt.Errorf("unknown decision %q", decision.Kind)
	}

	return decision, nil
}

// extractJSON strips markdown fences and surrounding prose, keeping the
// outermost JSON object.
func extractJSON(response string) string {
	s := strings.TrimSpace(response)

	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}

	return strings.TrimSpace(s)
}
