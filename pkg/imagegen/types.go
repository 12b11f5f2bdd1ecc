package imagegen

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxPromptLength is the longest prompt the generation backend accepts.
const MaxPromptLength = 2000

// Supported model identifiers.
const (
	ModelFlux2Klein4B   = "x/flux2-klein:4b"
	ModelZImageTurboFP8 = "x/z-image-turbo:fp8"

	DefaultModel = ModelFlux2Klein4B
)

// ModelInfo describes one entry of the fixed model catalogue.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var supportedModels = []ModelInfo{
	{ID: ModelFlux2Klein4B, Name: "Flux2 Klein (4B)"},
	{ID: ModelZImageTurboFP8, Name: "Z-Image Turbo"},
}

// Models returns the supported model catalogue in display order.
func Models() []ModelInfo {
	out := make([]ModelInfo, len(supportedModels))
	copy(out, supportedModels)
	return out
}

// ValidateModel returns an error wrapping ErrInvalidInput if id is not a
// supported model identifier.
func ValidateModel(id string) error {
	for _, m := range supportedModels {
		if m.ID == id {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported model %q", ErrInvalidInput, id)
}

// ValidatePrompt rejects blank prompts and prompts over MaxPromptLength.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidInput, MaxPromptLength)
	}
	return nil
}

// Generation is one image produced by the remote service. Records are
// immutable after creation; ID and CreatedAt are assigned by the service.
type Generation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Prompt    string    `json:"prompt"`
	Model     string    `json:"model,omitempty"`
	ImagePath string    `json:"image_path,omitempty"`
	PublicURL string    `json:"public_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Pending reports whether the image is not yet resolvable.
func (g Generation) Pending() bool {
	return g.PublicURL == ""
}

// GenerateRequest carries the inputs of a single generation call.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"user_id"`
	Model  string `json:"model,omitempty"`
}
