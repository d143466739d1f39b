package vlm

import (
	"context"
	"strings"
)

// Provider defines the interface for the vision-language and image models a
// scan session calls out to. Implementations handle transport details such
// as request formatting, authentication, and response parsing; callers own
// deadlines through the context.
type Provider interface {
	// RecognizeDishStrings extracts raw dish name strings from one image segment.
	RecognizeDishStrings(ctx context.Context, image []byte, mimeType, prompt string) (DishStrings, error)

	// ParseMenu extracts fully structured menu items from one image.
	ParseMenu(ctx context.Context, image []byte, mimeType, prompt string) (MenuPayload, error)

	// Translate resolves a batch of dish names into translated menu items.
	Translate(ctx context.Context, prompt string) (MenuPayload, error)

	// GenerateImage renders an illustration for the given prompt.
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// Factory builds a Provider bound to a specific (vision model, image model)
// pair. The orchestrator constructs one provider per fallback attempt.
type Factory func(visionModel, imageModel string) Provider

// Config holds common configuration for VLM providers.
type Config struct {
	APIKey          string
	VisionModel     string
	ImageModel      string
	MaxOutputTokens int
	Temperature     float32
}

// IsModelAccessError reports whether an upstream failure looks like the
// model being unavailable to this caller (wrong name, missing permission,
// quota revoked) rather than a transient fault. Used to pick user-facing
// wording and, for image generation, to decide whether the fallback model
// is tried at all.
func IsModelAccessError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"model",
		"not found",
		"does not exist",
		"not available",
		"permission",
		"forbidden",
		"unauthorized",
		"403",
		"404",
		"invalid argument",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
