package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

// maxErrorBody caps how much of an error response is kept in the message
const maxErrorBody = 512

// postForAudio sends a JSON body and returns the raw audio response
func postForAudio(ctx context.Context, client *http.Client, provider, url string, headers http.Header, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Provider: provider, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Provider: provider, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Provider: provider, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var err error = errors.New(string(bytes.TrimSpace(respBody)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			err = resilience.NewRetryableError(err)
		}
		return nil, &Error{Provider: provider, StatusCode: resp.StatusCode, Err: err}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: provider, Err: fmt.Errorf("failed to read audio: %w", err)}
	}
	if len(audio) == 0 {
		return nil, &Error{Provider: provider, Err: errors.New("empty audio response")}
	}
	return audio, nil
}

func httpClientOrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{}
}
