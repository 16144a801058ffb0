package webhook

import (
	"strings"

	"github.com/mediaforge/mediaforge/pkg/models"
)

// Classify decides which tool produced a job from its input fields. Rules
// are checked in order and the first match wins, so an input carrying both
// "prompt" and "swap_image"+"input_image" is a face swap.
func Classify(input map[string]any) models.ToolType {
	if hint, ok := input["tool"].(string); ok {
		if tool, ok := models.ParseToolType(hint); ok {
			return tool
		}
	}

	switch {
	case has(input, "video") && (has(input, "swap_image") || has(input, "image")):
		return models.ToolVideoSwap
	case has(input, "swap_image") && has(input, "input_image"):
		return models.ToolFaceSwap
	case has(input, "audio_url") || has(input, "avatar_image"):
		return models.ToolAvatar
	case has(input, "lyrics") || has(input, "seconds_total") || has(input, "song_file"):
		return models.ToolMusic
	case has(input, "prompt"):
		return models.ToolThumbnail
	default:
		return models.ToolUnknown
	}
}

func has(input map[string]any, key string) bool {
	v, ok := input[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

var errorKeywords = []struct {
	class    models.ErrorClass
	keywords []string
}{
	{models.ErrorClassContentPolicy, []string{"nsfw", "safety", "content policy", "flagged", "sensitive"}},
	{models.ErrorClassTimeout, []string{"timeout", "timed out", "deadline"}},
	{models.ErrorClassResourceLimit, []string{"out of memory", "oom", "cuda", "resource", "quota", "rate limit"}},
}

// ClassifyError buckets a provider error message by case-insensitive keyword
// match. Content policy is checked first, then timeout, then resource limits.
func ClassifyError(msg string) models.ErrorClass {
	lower := strings.ToLower(msg)
	for _, group := range errorKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.class
			}
		}
	}
	return models.ErrorClassUnknown
}
