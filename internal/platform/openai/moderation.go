package openai

import (
	"context"
	"encoding/json"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

type ModerationResult struct {
	Flagged    bool
	Categories []string
	Raw        json.RawMessage
}

type Moderator interface {
	Moderate(ctx context.Context, text string) (ModerationResult, error)
}

// Moderate classifies text with the moderation endpoint. Categories lists the
// flagged category names, sorted.
func (c *OpenAIClient) Moderate(ctx context.Context, text string) (ModerationResult, error) {
	resp, err := c.api.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: c.cfg.ModerationModel,
	})
	if err != nil {
		return ModerationResult{}, mapError(err)
	}
	raw, _ := json.Marshal(resp)
	out := ModerationResult{Raw: raw}
	for _, r := range resp.Results {
		if !r.Flagged {
			continue
		}
		out.Flagged = true
		out.Categories = append(out.Categories, flaggedCategories(r.Categories)...)
	}
	sort.Strings(out.Categories)
	return out, nil
}

func flaggedCategories(cats openai.ResultCategories) []string {
	b, err := json.Marshal(cats)
	if err != nil {
		return nil
	}
	var m map[string]bool
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	var out []string
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	return out
}
