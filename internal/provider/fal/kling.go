package fal

const (
	ModelKlingTextToVideo  = "fal-ai/kling-video/v2.1/master/text-to-video"
	ModelKlingImageToVideo = "fal-ai/kling-video/v2.1/master/image-to-video"
)

// KlingInput drives the cinematographer tool.
type KlingInput struct {
	Prompt         string
	ImageURL       string
	Duration       int
	AspectRatio    string
	NegativePrompt string
}

// Model picks image-to-video when a start frame is given.
func (in KlingInput) Model() string {
	if in.ImageURL != "" {
		return ModelKlingImageToVideo
	}
	return ModelKlingTextToVideo
}

func (in KlingInput) Build() map[string]any {
	duration := "5"
	if in.Duration >= 10 {
		duration = "10"
	}
	m := map[string]any{
		"prompt":   in.Prompt,
		"duration": duration,
	}
	if in.ImageURL != "" {
		m["image_url"] = in.ImageURL
	} else {
		aspect := in.AspectRatio
		if aspect == "" {
			aspect = "16:9"
		}
		m["aspect_ratio"] = aspect
	}
	if in.NegativePrompt != "" {
		m["negative_prompt"] = in.NegativePrompt
	}
	return m
}
