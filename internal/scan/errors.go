package scan

import (
	"fmt"

	"github.com/backtrue/omakase-app/internal/types"
)

// Error codes carried by the "error" event.
const (
	CodeInvalidImage        = "INVALID_IMAGE_BASE64"
	CodeVLMTimeout          = "VLM_TIMEOUT"
	CodeVLMFailed           = "VLM_FAILED"
	CodeImagePipelineFailed = "IMAGE_PIPELINE_FAILED"
	CodeInternal            = "INTERNAL_ERROR"
)

// Error is a scan failure that maps directly onto the wire error event.
type Error struct {
	Code        string
	Message     string
	Detail      string
	Recoverable bool
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// Payload returns the error event payload for this failure.
func (e *Error) Payload() types.ErrorPayload {
	return types.ErrorPayload{
		Code:        e.Code,
		Message:     e.Message,
		Detail:      e.Detail,
		Recoverable: e.Recoverable,
	}
}
