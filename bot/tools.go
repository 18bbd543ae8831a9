package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/ai/memory"
	"github.com/gryagbot/gryag/store"
)

// memoryTools builds the memory tool set for one generation, closed over the
// sender's resolved profile. The callbacks write through the fact store
// directly; only the rate limiter is bypassed.
func (b *Bot) memoryTools(profileID, chatID int64) ([]ai.ToolSpec, map[string]ai.ToolHandler) {
	specs := []ai.ToolSpec{
		{
			Name:        "remember_memory",
			Description: "Remember a fact about the current user for future conversations.",
			Parameters: map[string]*ai.ParamSpec{
				"category": {Type: "string", Description: "Fact category, e.g. preference, skill, opinion, trait.", Required: true},
				"key":      {Type: "string", Description: "Short machine-friendly fact name.", Required: true},
				"value":    {Type: "string", Description: "The fact content.", Required: true},
			},
		},
		{
			Name:        "recall_memories",
			Description: "Recall stored facts about the current user, optionally filtered by category.",
			Parameters: map[string]*ai.ParamSpec{
				"category": {Type: "string", Description: "Category filter, empty for all."},
			},
		},
		{
			Name:        "forget_memory",
			Description: "Forget a previously stored fact about the current user by its key.",
			Parameters: map[string]*ai.ParamSpec{
				"key": {Type: "string", Description: "The fact key to forget.", Required: true},
			},
		},
		{
			Name:        "set_pronouns",
			Description: "Store the current user's pronouns.",
			Parameters: map[string]*ai.ParamSpec{
				"pronouns": {Type: "string", Description: "Pronouns, e.g. she/her, he/him, they/them.", Required: true},
			},
		},
	}

	handlers := map[string]ai.ToolHandler{
		"remember_memory": func(ctx context.Context, args map[string]any) (string, error) {
			category := stringArg(args, "category")
			key := stringArg(args, "key")
			value := stringArg(args, "value")
			if key == "" || value == "" {
				return "", fmt.Errorf("key and value are required")
			}
			if category == "" {
				category = "general"
			}
			_, reinforced, err := b.facts.AddFact(ctx, &store.Fact{
				EntityType: store.FactEntityUser,
				EntityID:   profileID,
				Category:   category,
				Key:        key,
				Value:      value,
				Confidence: 0.9,
				SourceType: "tool",
			})
			if err != nil {
				return "", err
			}
			if reinforced {
				return `{"status": "reinforced"}`, nil
			}
			return `{"status": "remembered"}`, nil
		},
		"recall_memories": func(ctx context.Context, args map[string]any) (string, error) {
			facts, err := b.facts.GetFacts(ctx, memory.FactQuery{
				EntityType:    store.FactEntityUser,
				EntityID:      profileID,
				Category:      stringArg(args, "category"),
				MinConfidence: b.cfg.FactConfidenceThreshold,
				Limit:         20,
			})
			if err != nil {
				return "", err
			}
			type memoryOut struct {
				Category   string  `json:"category"`
				Key        string  `json:"key"`
				Value      string  `json:"value"`
				Confidence float64 `json:"confidence"`
			}
			out := make([]memoryOut, 0, len(facts))
			for _, f := range facts {
				out = append(out, memoryOut{Category: f.Category, Key: f.Key, Value: f.Value, Confidence: f.Confidence})
			}
			raw, err := json.Marshal(out)
			if err != nil {
				return "", err
			}
			return string(raw), nil
		},
		"forget_memory": func(ctx context.Context, args map[string]any) (string, error) {
			key := stringArg(args, "key")
			if key == "" {
				return "", fmt.Errorf("key is required")
			}
			facts, err := b.facts.GetFacts(ctx, memory.FactQuery{
				EntityType: store.FactEntityUser,
				EntityID:   profileID,
			})
			if err != nil {
				return "", err
			}
			deleted := 0
			for _, f := range facts {
				if strings.EqualFold(f.Key, key) {
					if err := b.facts.DeleteFact(ctx, f.ID); err != nil {
						return "", err
					}
					deleted++
				}
			}
			return fmt.Sprintf(`{"deleted": %d}`, deleted), nil
		},
		"set_pronouns": func(ctx context.Context, args map[string]any) (string, error) {
			pronouns := stringArg(args, "pronouns")
			if pronouns == "" {
				return "", fmt.Errorf("pronouns are required")
			}
			_, _, err := b.facts.AddFact(ctx, &store.Fact{
				EntityType: store.FactEntityUser,
				EntityID:   profileID,
				Category:   "identity",
				Key:        "pronouns",
				Value:      pronouns,
				Confidence: 1.0,
				SourceType: "tool",
			})
			if err != nil {
				return "", err
			}
			return `{"status": "saved"}`, nil
		},
	}
	return specs, handlers
}

func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return strings.TrimSpace(v)
}
