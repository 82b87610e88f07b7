package aiprompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

func buildOptimizePayload(description, modelList string) string {
	sb := &strings.Builder{}
	sb.WriteString("Rewrite the user's description into a complete, expressive English prompt ")
	sb.WriteString("for AI image generation, preserving the original meaning, and pick the most ")
	sb.WriteString("suitable model from the list. Keep the prompt under 200 English words. ")
	sb.WriteString(`Respond strictly with JSON matching this schema: {"prompt":string,"model":string,"reason":string}`)
	sb.WriteString(" where model is the chosen alias.\n\nModel list:\n")
	sb.WriteString(modelList)
	fmt.Fprintf(sb, "\n\nUser description: %s", description)
	return sb.String()
}

// parseResult tolerates chat models wrapping their JSON in prose or code
// fences: the first JSON object found in the text wins.
func parseResult(raw string) (*Result, error) {
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return nil, errors.New("aiprompt: empty payload")
	}
	var decoded Result
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("aiprompt: decode payload: %w", err)
	}
	if strings.TrimSpace(decoded.Prompt) == "" {
		return nil, errors.New("aiprompt: payload missing prompt")
	}
	return &decoded, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
