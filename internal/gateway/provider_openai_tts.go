package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type ttsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
	Format string `json:"response_format,omitempty"`
}

// TTS synthesizes speech via the OpenAI-compatible /audio/speech endpoint.
func (c *OpenAICompatClient) TTS(ctx context.Context, text, voice, format string) ([]byte, error) {
	if voice == "" {
		voice = "alloy"
	}
	if format == "" {
		format = "mp3"
	}
	req := ttsRequest{Model: c.model, Input: text, Voice: voice, Format: format}

	var audio []byte
	err := withBackoff(ctx, c.maxRetries, c.categorize, func() error {
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return NewModelError(c.name, CategorizeTransportError(err), err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return NewModelError(c.name, CategoryNetwork, err)
		}
		if resp.StatusCode >= 300 {
			return NewModelError(c.name, CategorizeHTTPStatus(resp.StatusCode), fmt.Errorf("status %d: %s", resp.StatusCode, string(data)))
		}
		audio = data
		return nil
	})
	return audio, err
}
