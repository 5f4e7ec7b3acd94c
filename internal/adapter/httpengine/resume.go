package httpengine

import (
	"encoding/json"
	"fmt"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// resumeState is the opaque resume data handed to the orchestrator on failure
type resumeState struct {
	Request      domain.Request `json:"request"`
	Destination  string         `json:"destination,omitempty"`
	BytesWritten int64          `json:"bytes_written"`
	ETag         string         `json:"etag,omitempty"`
	LastModified string         `json:"last_modified,omitempty"`
}

func (s resumeState) encode() []byte {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return data
}

func decodeResumeState(data []byte) (resumeState, error) {
	var s resumeState
	if len(data) == 0 {
		return s, fmt.Errorf("%w: empty", domain.ErrInvalidResumeData)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("%w: %v", domain.ErrInvalidResumeData, err)
	}
	if err := s.Request.Validate(); err != nil {
		return s, fmt.Errorf("%w: %v", domain.ErrInvalidResumeData, err)
	}
	if s.BytesWritten < 0 {
		return s, fmt.Errorf("%w: negative offset", domain.ErrInvalidResumeData)
	}
	return s, nil
}

// validator returns the If-Range value that guards a ranged resume
func (s resumeState) validator() string {
	if s.ETag != "" {
		return s.ETag
	}
	return s.LastModified
}
