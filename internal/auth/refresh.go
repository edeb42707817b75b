package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const refreshTimeout = 10 * time.Second

// HTTPRefresher returns a RefreshFunc that POSTs to the backend's token
// refresh endpoint and decodes the {"token": "..."} response.
func HTTPRefresher(url string) RefreshFunc {
	client := &http.Client{Timeout: refreshTimeout}

	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return "", fmt.Errorf("build refresh request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("refresh request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("refresh endpoint returned %d", resp.StatusCode)
		}

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("decode refresh response: %w", err)
		}
		return body.Token, nil
	}
}
