package replicate

// Model identifies a Replicate model by owner and name. Predictions always
// run the model's latest version.
type Model struct {
	Owner string
	Name  string
}

func (m Model) String() string { return m.Owner + "/" + m.Name }

var (
	ModelNanoBananaPro = Model{Owner: "google", Name: "nano-banana-pro"}
	ModelFaceSwap      = Model{Owner: "cdingram", Name: "face-swap"}
	ModelMiniMaxMusic  = Model{Owner: "minimax", Name: "music-1.5"}
	ModelStableAudio   = Model{Owner: "stability-ai", Name: "stable-audio-2.5"}
	ModelWanVideoSwap  = Model{Owner: "wan-video", Name: "wan-2.2-animate-replace"}
)

// ThumbnailInput drives Nano-Banana Pro image generation.
type ThumbnailInput struct {
	Prompt       string
	ImageInputs  []string
	AspectRatio  string
	Resolution   string
	OutputFormat string
}

func (in ThumbnailInput) Build() map[string]any {
	m := map[string]any{
		"prompt":        in.Prompt,
		"aspect_ratio":  orDefault(in.AspectRatio, "16:9"),
		"resolution":    orDefault(in.Resolution, "2K"),
		"output_format": orDefault(in.OutputFormat, "png"),
	}
	if len(in.ImageInputs) > 0 {
		m["image_input"] = in.ImageInputs
	}
	return m
}

// FaceSwapInput swaps the face in SwapImage onto InputImage.
type FaceSwapInput struct {
	InputImage string
	SwapImage  string
}

func (in FaceSwapInput) Build() map[string]any {
	return map[string]any{
		"input_image": in.InputImage,
		"swap_image":  in.SwapImage,
	}
}

// MusicInput covers both music engines. MiniMax takes lyrics and an
// optional reference song; Stable Audio takes a prompt and a duration.
type MusicInput struct {
	Prompt       string
	Lyrics       string
	SongFile     string
	SecondsTotal int
}

func (in MusicInput) BuildMiniMax() map[string]any {
	m := map[string]any{
		"lyrics": in.Lyrics,
	}
	if in.Prompt != "" {
		m["prompt"] = in.Prompt
	}
	if in.SongFile != "" {
		m["song_file"] = in.SongFile
	}
	return m
}

func (in MusicInput) BuildStableAudio() map[string]any {
	seconds := in.SecondsTotal
	if seconds <= 0 {
		seconds = 30
	}
	if seconds > 190 {
		seconds = 190
	}
	return map[string]any{
		"prompt":        in.Prompt,
		"seconds_total": seconds,
	}
}

// VideoSwapInput replaces the character in Video with the one in Image.
type VideoSwapInput struct {
	Video      string
	Image      string
	Resolution string
}

func (in VideoSwapInput) Build() map[string]any {
	return map[string]any{
		"video":      in.Video,
		"image":      in.Image,
		"resolution": orDefault(in.Resolution, "720"),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
