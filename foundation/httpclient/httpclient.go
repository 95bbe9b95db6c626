// Package httpclient provides basic http functions
package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client wraps an http.Client with JSON POST support and optional basic auth,
// used for schedule source queries
type Client struct {
	httpClient *http.Client
	username   string
	password   string
}

// NewClient creates a Client with the given request timeout. Username and
// password may be empty, basic auth is only sent when both are set.
func NewClient(timeout time.Duration, username string, password string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		username:   username,
		password:   password,
	}
}

// PostJSON marshals body to JSON, posts it to url and un-marshals the JSON
// response into result. Non-2xx responses are returned as errors.
func (c *Client) PostJSON(url string, body interface{}, result interface{}) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling request body: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.username != "" && c.password != "" {
		request.SetBasicAuth(c.username, c.password)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("unexpected response status %d from %s", response.StatusCode, url)
	}

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err = json.Unmarshal(responseBody, result); err != nil {
		return fmt.Errorf("unmarshalling response body: %w", err)
	}
	return nil
}
