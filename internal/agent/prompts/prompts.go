// Package prompts renders the system prompts for the loan assistant via the
// Eino prompt component.
package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/extraction_prompt.txt
var extractionSystemPrompt string

//go:embed template/reply_prompt.txt
var replySystemPrompt string

// Config identifies the lender persona injected into every prompt.
type Config struct {
	BusinessName string `envconfig:"PROMPT_BUSINESS_NAME" default:"Horizon Finance Limited"`
	BusinessType string `envconfig:"PROMPT_BUSINESS_TYPE" default:"Indian NBFC"`
}

// RenderExtractionSystem renders the field-extraction system prompt with the
// current known state embedded, emitting prompt callbacks along the way.
func RenderExtractionSystem(ctx context.Context, cfg Config, currentState string) (string, error) {
	return render(ctx, extractionSystemPrompt, map[string]any{
		"BusinessName": cfg.BusinessName,
		"BusinessType": cfg.BusinessType,
		"CurrentState": currentState,
	})
}

// RenderReplySystem renders the response-generation system prompt around a
// per-turn task description and the current state summary.
func RenderReplySystem(ctx context.Context, cfg Config, stateSummary, task string) (string, error) {
	if task == "" {
		task = "None"
	}
	return render(ctx, replySystemPrompt, map[string]any{
		"BusinessName": cfg.BusinessName,
		"BusinessType": cfg.BusinessType,
		"StateSummary": stateSummary,
		"Task":         task,
	})
}

func render(ctx context.Context, template string, vars map[string]any) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(template),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("render system prompt: empty result")
	}
	return msgs[0].Content, nil
}
