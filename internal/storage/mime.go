package storage

import (
	"mime"
	"path"
	"strings"
)

var extensionsByType = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/wave":      ".wav",
}

var typesByExtension = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
}

// ExtensionForContentType returns the file extension for a media type,
// ignoring parameters. Unknown types map to ".bin".
func ExtensionForContentType(contentType string) string {
	mt := normalizeMediaType(contentType)
	if ext, ok := extensionsByType[mt]; ok {
		return ext
	}
	return ".bin"
}

// ContentTypeForExtension returns the media type for a file name or URL path,
// or "" when the extension is not recognised.
func ContentTypeForExtension(name string) string {
	return typesByExtension[strings.ToLower(path.Ext(name))]
}

// KeyWithExtension makes sure key ends with the extension for contentType.
func KeyWithExtension(key, contentType string) string {
	if key == "" {
		return key
	}
	ext := ExtensionForContentType(contentType)
	if strings.EqualFold(path.Ext(key), ext) {
		return key
	}
	return key + ext
}

func normalizeMediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(contentType)
	}
	return strings.ToLower(mt)
}
