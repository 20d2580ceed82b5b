// Package llm writes message variations for campaign authoring.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/unclebandit/campaign-dispatch/internal/config"
)

const systemPrompt = `You rewrite WhatsApp marketing messages for a restaurant.
Produce alternative versions of the message the user sends you. Keep the same
meaning, offer, prices, links and language. Vary wording and emoji so that no two
versions are identical. Answer with a JSON array of strings and nothing else.`

var ErrNoVariations = errors.New("model returned no usable variations")

type VariationGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	log       zerolog.Logger
}

func NewVariationGenerator(cfg config.LLMConfig, log zerolog.Logger, opts ...option.RequestOption) *VariationGenerator {
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &VariationGenerator{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		log:       log,
	}
}

// Generate returns up to count rewrites of base.
func (g *VariationGenerator) Generate(ctx context.Context, base string, count int) ([]string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(
				fmt.Sprintf("Write %d variations of this message:\n\n%s", count, base),
			)),
		},
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	variations, err := parseVariations(text.String(), base, count)
	if err != nil {
		g.log.Warn().Err(err).Str("stop_reason", string(msg.StopReason)).Msg("unusable llm response")
		return nil, err
	}
	return variations, nil
}

// parseVariations reads the first JSON array of strings in the reply,
// dropping blanks, duplicates and copies of the base text.
func parseVariations(reply, base string, count int) ([]string, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end < start {
		return nil, ErrNoVariations
	}
	arr := gjson.Parse(reply[start : end+1])
	if !arr.IsArray() {
		return nil, ErrNoVariations
	}

	seen := map[string]bool{strings.TrimSpace(base): true}
	var out []string
	for _, item := range arr.Array() {
		if item.Type != gjson.String {
			continue
		}
		v := strings.TrimSpace(item.String())
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) == count {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoVariations
	}
	return out, nil
}
