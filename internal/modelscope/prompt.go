package modelscope

import "strings"

// ComposePrompt prepends the model's trigger words to the prompt unless the
// prompt already contains them (case-insensitive). Trigger words activate a
// LoRA's style and models silently underperform without them.
func ComposePrompt(prompt, triggerWords string) string {
	triggerWords = strings.TrimSpace(triggerWords)
	if triggerWords == "" {
		return prompt
	}
	if strings.Contains(strings.ToLower(prompt), strings.ToLower(triggerWords)) {
		return prompt
	}
	return triggerWords + ", " + prompt
}

// MergeNegativePrompts joins the given negative-prompt parts, splits the
// result on commas, trims each fragment and drops duplicates keeping first
// occurrence order. Empty parts are skipped; an empty result means no
// negative prompt at all.
func MergeNegativePrompts(parts ...string) string {
	var selected []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			selected = append(selected, p)
		}
	}
	if len(selected) == 0 {
		return ""
	}
	seen := make(map[string]struct{})
	var fragments []string
	for _, raw := range strings.Split(strings.Join(selected, ", "), ",") {
		fragment := strings.TrimSpace(raw)
		if fragment == "" {
			continue
		}
		if _, ok := seen[fragment]; ok {
			continue
		}
		seen[fragment] = struct{}{}
		fragments = append(fragments, fragment)
	}
	return strings.Join(fragments, ", ")
}
