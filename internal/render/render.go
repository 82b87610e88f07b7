package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"modabot/internal/store"
)

// Default templates for the chat surface. Placeholders are substituted by
// name; unknown placeholders are left as-is so operators notice typos.
const (
	DefaultTaskListTemplate = "{status} [#{id}] {type}\nprompt: {prompt}\nseed: {seed}\n{model} | {time}"
	DefaultTaskListDetail   = "{status} [#{id}] {type}\nprompt: {prompt}\nsize: {size}\nnegative: {negativePrompt}\nseed: {seed}\nmodel: {model}\nelapsed: {time}\ncreated: {date}"
	DefaultFavListTemplate  = "[#{id}] {type}\nprompt: {prompt}\nseed: {seed}\n{model}"
	DefaultFavListDetail    = "[#{id}] {type}\nprompt: {prompt}\nsize: {size}\nnegative: {negativePrompt}\nseed: {seed}\nmodel: {model}\ncreated: {date}"
	DefaultTaskInfoTemplate = "task #{id}\n\ntype: {type}\nmodel: {model}\nprompt: {prompt}\nnegative: {negativePrompt}\nsize: {size}\nseed: {seed}\nstatus: {status}\nelapsed: {time}\nfavorited: {favorited}"
)

const negativePromptPreviewLen = 50

// Substitute replaces every {name} placeholder with its value.
func Substitute(template string, vars map[string]string) string {
	result := template
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}

// TaskVars builds the placeholder set for one task. favorited may be nil when
// the favorite state is unknown for the rendering context.
func TaskVars(task *store.Task, favorited *bool) map[string]string {
	elapsed := time.Since(task.CreatedAt)
	if task.CompletedAt != nil {
		elapsed = task.CompletedAt.Sub(task.CreatedAt)
	}

	kind := "image generation"
	if task.Kind == store.KindEdit {
		kind = "image edit"
	}

	seed := "none"
	if task.ResultSeed != nil {
		seed = strconv.FormatInt(*task.ResultSeed, 10)
	}

	size := "unspecified"
	if task.Size != nil && *task.Size != "" {
		size = *task.Size
	}

	negative := "none"
	if task.NegativePrompt != nil && *task.NegativePrompt != "" {
		negative = *task.NegativePrompt
		// rune-wise so multi-byte prompts are not cut mid-character
		if runes := []rune(negative); len(runes) > negativePromptPreviewLen {
			negative = string(runes[:negativePromptPreviewLen]) + "..."
		}
	}

	fav := ""
	if favorited != nil {
		if *favorited {
			fav = "yes"
		} else {
			fav = "no"
		}
	}

	return map[string]string{
		"id":             strconv.FormatInt(task.ID, 10),
		"type":           kind,
		"prompt":         task.Prompt,
		"seed":           seed,
		"model":          task.Model,
		"time":           FormatElapsed(elapsed),
		"size":           size,
		"negativePrompt": negative,
		"status":         task.Status,
		"date":           task.CreatedAt.Format("2006-01-02 15:04:05"),
		"favorited":      fav,
	}
}

// FormatTask renders one task with the given template.
func FormatTask(task *store.Task, template string, favorited *bool) string {
	return Substitute(template, TaskVars(task, favorited))
}

// FormatElapsed renders a duration as seconds, minutes or hours, rounded to
// whole seconds.
func FormatElapsed(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	secs := seconds % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm%ds", minutes, secs)
	}
	return fmt.Sprintf("%dh%dm", minutes/60, minutes%60)
}

// TrimPage implements the pageSize+1 convention: callers over-fetch one row
// to detect a next page without a count query.
func TrimPage(tasks []store.Task, pageSize int) ([]store.Task, bool) {
	if pageSize > 0 && len(tasks) > pageSize {
		return tasks[:pageSize], true
	}
	return tasks, false
}
