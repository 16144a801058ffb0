package webhook

import (
	"testing"

	"github.com/mediaforge/mediaforge/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  models.ToolType
	}{
		{"tool hint wins", map[string]any{"tool": "music", "prompt": "a cat"}, models.ToolMusic},
		{"unknown hint falls through", map[string]any{"tool": "banana", "prompt": "a cat"}, models.ToolThumbnail},
		{"video with swap image", map[string]any{"video": "v.mp4", "swap_image": "f.png"}, models.ToolVideoSwap},
		{"video with image", map[string]any{"video": "v.mp4", "image": "f.png", "prompt": "x"}, models.ToolVideoSwap},
		{"face swap", map[string]any{"swap_image": "a.png", "input_image": "b.png"}, models.ToolFaceSwap},
		{"face swap beats prompt", map[string]any{"prompt": "p", "swap_image": "a.png", "input_image": "b.png"}, models.ToolFaceSwap},
		{"swap image alone is not face swap", map[string]any{"swap_image": "a.png", "prompt": "p"}, models.ToolThumbnail},
		{"avatar audio", map[string]any{"audio_url": "a.mp3"}, models.ToolAvatar},
		{"avatar image", map[string]any{"avatar_image": "a.png", "prompt": "talk"}, models.ToolAvatar},
		{"music lyrics", map[string]any{"lyrics": "la la", "prompt": "pop"}, models.ToolMusic},
		{"music seconds", map[string]any{"seconds_total": 30.0, "prompt": "ambient"}, models.ToolMusic},
		{"music song file", map[string]any{"song_file": "ref.mp3"}, models.ToolMusic},
		{"thumbnail", map[string]any{"prompt": "a youtube thumbnail"}, models.ToolThumbnail},
		{"blank prompt ignored", map[string]any{"prompt": "  "}, models.ToolUnknown},
		{"null field ignored", map[string]any{"lyrics": nil}, models.ToolUnknown},
		{"empty", map[string]any{}, models.ToolUnknown},
		{"nil", nil, models.ToolUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.input))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	input := map[string]any{"prompt": "p", "swap_image": "a", "input_image": "b", "lyrics": "l"}
	first := Classify(input)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Classify(input))
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want models.ErrorClass
	}{
		{"NSFW content detected. Try running it again, or try a different prompt.", models.ErrorClassContentPolicy},
		{"Input flagged by safety checker", models.ErrorClassContentPolicy},
		{"violates our content policy", models.ErrorClassContentPolicy},
		{"Prediction timed out", models.ErrorClassTimeout},
		{"context deadline exceeded", models.ErrorClassTimeout},
		{"CUDA out of memory. Tried to allocate 2.00 GiB", models.ErrorClassResourceLimit},
		{"monthly quota exhausted", models.ErrorClassResourceLimit},
		{"Rate limit reached", models.ErrorClassResourceLimit},
		{"safety timeout", models.ErrorClassContentPolicy},
		{"something odd happened", models.ErrorClassUnknown},
		{"", models.ErrorClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.msg))
		})
	}
}

func TestPayloadErrorMessage(t *testing.T) {
	assert.Equal(t, "", Payload{}.ErrorMessage())
	assert.Equal(t, "boom", Payload{Error: "boom"}.ErrorMessage())
	assert.Equal(t, "bad input", Payload{Error: map[string]any{"detail": "bad input"}}.ErrorMessage())
	assert.Equal(t, `{"code":7}`, Payload{Error: map[string]any{"code": 7}}.ErrorMessage())
}

func TestPayloadMergeHints(t *testing.T) {
	p := Payload{}
	p.MergeHints(map[string]string{"tool": "thumbnail", "user_id": "u1", "other": "x"})
	assert.Equal(t, map[string]any{"tool": "thumbnail", "user_id": "u1"}, p.Input)

	p = Payload{Input: map[string]any{"tool": "music"}}
	p.MergeHints(map[string]string{"tool": "thumbnail"})
	assert.Equal(t, "music", p.Input["tool"])
}
