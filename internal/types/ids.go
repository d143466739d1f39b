// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionID string
type JobID string
type UploadID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

func NewUploadID() UploadID {
	return UploadID(strings.ReplaceAll(uuid.New().String(), "-", ""))
}
