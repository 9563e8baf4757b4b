package stt

import (
	"encoding/json"
	"fmt"
)

// parseResult decodes one raw message from the transcription service.
func parseResult(data []byte) (*resultMessage, error) {
	var msg resultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse result message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("result message has no type field")
	}
	return &msg, nil
}
