package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	messagesPath = "/v1/messages"
	apiVersion   = "2023-06-01"

	// sentenceBoundaries are the punctuation marks that trigger emission
	// of a buffered sentence during streaming.
	sentenceBoundaries = ".!?,;"
)

// messagesRequest is the wire form of a model invocation.
type messagesRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    string `json:"system"`
	Messages  []Turn `json:"messages"`
	Stream    bool   `json:"stream,omitempty"`
}

// messagesResponse is the non-streaming response body.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// streamEvent is one server-sent event of a streaming response.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// complete performs one non-streaming model call and returns the reply text.
func (e *Engine) complete(ctx context.Context) (string, error) {
	resp, err := e.doRequest(ctx, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrResponseEngine, err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: parsing response: %v", ErrResponseEngine, err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("%w: response has no content", ErrResponseEngine)
	}

	return parsed.Content[0].Text, nil
}

// stream performs one streaming model call, emitting sentence chunks as they
// complete and returning the full reply text.
func (e *Engine) stream(ctx context.Context, onSentence func(string)) (string, error) {
	resp, err := e.doRequest(ctx, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	buffer := ""

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type != "text_delta" {
				continue
			}
			full.WriteString(event.Delta.Text)
			buffer = emitSentences(buffer+event.Delta.Text, onSentence)

		case "error":
			return "", fmt.Errorf("%w: stream error: %s", ErrResponseEngine, event.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: reading stream: %v", ErrResponseEngine, err)
	}

	// Flush whatever trails the last boundary.
	if remainder := strings.TrimSpace(buffer); remainder != "" && onSentence != nil {
		onSentence(remainder)
	}

	return full.String(), nil
}

// doRequest performs the HTTP exchange shared by both modes.
func (e *Engine) doRequest(ctx context.Context, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(messagesRequest{
		Model:     e.cfg.Model,
		MaxTokens: e.cfg.MaxTokens,
		System:    e.system,
		Messages:  e.turns,
		Stream:    stream,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrResponseEngine, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+messagesPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrResponseEngine, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", e.cfg.APIKey)
	req.Header.Set("Anthropic-Version", apiVersion)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseEngine, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrResponseEngine, resp.StatusCode, string(body))
	}

	return resp, nil
}

// emitSentences delivers every complete sentence in buffer to onSentence and
// returns the unterminated remainder.
func emitSentences(buffer string, onSentence func(string)) string {
	for {
		idx := strings.IndexAny(buffer, sentenceBoundaries)
		if idx < 0 {
			return buffer
		}

		sentence := strings.TrimSpace(buffer[:idx+1])
		if sentence != "" && onSentence != nil {
			onSentence(sentence)
		}
		buffer = buffer[idx+1:]
	}
}
