package van

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/secrets"
)

// DefaultBaseURL is the VAN API root.
const DefaultBaseURL = "https://api.securevan.com/v4"

// defaultMode is VAN's VoterFile database mode.
const defaultMode = "0"

const maxResponseBody = 64 << 10

// Client posts canvass responses to VAN.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for baseURL. A nil httpClient gets a client with
// a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Password returns the Basic auth password for an API key. A key that
// already names a mode ("key|1") is used as is.
func Password(apiKey string) string {
	if strings.Contains(apiKey, "|") {
		return apiKey
	}
	return apiKey + "|" + defaultMode
}

// PostCanvassResponses submits body for the person with externalID. It
// returns the HTTP status and response body; err is set only when no
// response was received.
func (c *Client) PostCanvassResponses(ctx context.Context, cred secrets.Credential, externalID string, body []CanvassResponse) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", fmt.Errorf("marshal canvass responses: %w", err)
	}
	endpoint := c.baseURL + "/people/" + url.PathEscape(externalID) + "/canvassResponses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build canvass request: %w", err)
	}
	req.SetBasicAuth(cred.Username, Password(cred.APIKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("post canvass responses for %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read canvass response body: %w", err)
	}
	return resp.StatusCode, string(respBody), nil
}
