// Package gemini implements the Assistant boundary on Gemini chat models via
// the Eino component stack.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/horizon-finance-poc/server/internal/agent"
	"github.com/horizon-finance-poc/server/internal/agent/prompts"
	"github.com/horizon-finance-poc/server/internal/session"
	logx "github.com/horizon-finance-poc/server/pkg/logger"
)

// ExtractionModelConfig tunes the low-temperature structured extraction model.
type ExtractionModelConfig struct {
	Model       string  `envconfig:"EXTRACTION_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"EXTRACTION_MAX_TOKENS" default:"500"`
	Temperature float32 `envconfig:"EXTRACTION_TEMPERATURE" default:"0.1"`
}

// ReplyModelConfig tunes the customer-facing response model.
type ReplyModelConfig struct {
	Model       string  `envconfig:"REPLY_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"REPLY_MAX_TOKENS" default:"300"`
	Temperature float32 `envconfig:"REPLY_TEMPERATURE" default:"0.4"`
}

// Config holds everything needed to build the Gemini assistant.
type Config struct {
	APIKey     string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL    string `envconfig:"GEMINI_BASE_URL"`
	MaxTurns   int    `envconfig:"ASSISTANT_MAX_TURNS" default:"10"`
	Extraction ExtractionModelConfig
	Reply      ReplyModelConfig
	Prompt     prompts.Config
}

// Assistant talks to two Gemini chat models: a cold one for field extraction
// and a warmer one for replies.
type Assistant struct {
	extraction     model.BaseChatModel
	reply          model.BaseChatModel
	extractionName string
	replyName      string
	prompt         prompts.Config
	maxTurns       int
}

// New builds the Gemini client and both chat models.
func New(ctx context.Context, cfg Config) (*Assistant, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	extraction, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Extraction.Model,
		Temperature: &cfg.Extraction.Temperature,
		MaxTokens:   &cfg.Extraction.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("error creating extraction model")
		return nil, fmt.Errorf("error creating extraction model: %w", err)
	}

	reply, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Reply.Model,
		Temperature: &cfg.Reply.Temperature,
		MaxTokens:   &cfg.Reply.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("error creating reply model")
		return nil, fmt.Errorf("error creating reply model: %w", err)
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}

	return &Assistant{
		extraction:     extraction,
		reply:          reply,
		extractionName: cfg.Extraction.Model,
		replyName:      cfg.Reply.Model,
		prompt:         cfg.Prompt,
		maxTurns:       maxTurns,
	}, nil
}

// Extract asks the extraction model for a structured read of the recent
// conversation and parses its JSON answer.
func (a *Assistant) Extract(ctx context.Context, history []*schema.Message, state session.Snapshot) (*agent.Extraction, error) {
	stateJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state snapshot: %w", err)
	}

	systemPrompt, err := prompts.RenderExtractionSystem(ctx, a.prompt, string(stateJSON))
	if err != nil {
		return nil, err
	}

	messages := append([]*schema.Message{schema.SystemMessage(systemPrompt)}, trimTail(history, a.maxTurns)...)

	out, err := a.extraction.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("extraction model: %w", err)
	}
	logUsage(a.extractionName, out)

	return parseExtraction(out.Content)
}

// Reply asks the response model for a short customer-facing message directed
// by the task description.
func (a *Assistant) Reply(ctx context.Context, history []*schema.Message, state session.Snapshot, task string) (string, error) {
	systemPrompt, err := prompts.RenderReplySystem(ctx, a.prompt, summarize(state), task)
	if err != nil {
		return "", err
	}

	messages := append([]*schema.Message{schema.SystemMessage(systemPrompt)}, trimTail(history, a.maxTurns)...)

	out, err := a.reply.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("reply model: %w", err)
	}
	logUsage(a.replyName, out)

	return strings.TrimSpace(out.Content), nil
}

var _ agent.Assistant = (*Assistant)(nil)

// parseExtraction tolerates markdown fences and leading prose around the JSON
// object the model was asked for.
func parseExtraction(content string) (*agent.Extraction, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in extraction output")
	}

	var ext agent.Extraction
	if err := json.Unmarshal([]byte(content[start:end+1]), &ext); err != nil {
		return nil, fmt.Errorf("parse extraction output: %w", err)
	}
	return &ext, nil
}

// summarize renders the snapshot as the labelled lines the reply prompt
// expects.
func summarize(state session.Snapshot) string {
	var lines []string

	if state.CustomerName != "" {
		lines = append(lines, "Customer Name: "+state.CustomerName)
	} else {
		lines = append(lines, "Customer Name: Not provided")
	}
	if state.PhoneNumber != "" {
		lines = append(lines, "Phone: "+state.PhoneNumber)
	} else {
		lines = append(lines, "Phone: Not provided")
	}
	if state.LoanAmount != nil {
		lines = append(lines, "Requested Amount: Rs. "+state.LoanAmount.StringFixed(2))
	} else {
		lines = append(lines, "Requested Amount: Not specified")
	}
	if state.TenureMonths > 0 {
		lines = append(lines, fmt.Sprintf("Tenure: %d months", state.TenureMonths))
	} else {
		lines = append(lines, "Tenure: Not specified")
	}
	if state.Salary != nil {
		lines = append(lines, "Monthly Salary: Rs. "+state.Salary.StringFixed(2))
	} else {
		lines = append(lines, "Monthly Salary: Not provided")
	}
	lines = append(lines, "Stage: "+string(state.Stage))

	return strings.Join(lines, "\n")
}

// trimTail returns at most maxTurns trailing messages, skipping nils and
// non-conversational roles.
func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	kept := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		if msg.Role == schema.User || msg.Role == schema.Assistant {
			kept = append(kept, msg)
		}
	}
	if len(kept) > maxTurns {
		kept = kept[len(kept)-maxTurns:]
	}
	return kept
}
