package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"llm-ensemble/internal/registry"
)

const maxResponseBytes = 4 << 20

// ErrMalformedPayload is returned when a 2xx body is not a JSON object.
var ErrMalformedPayload = errors.New("malformed payload")

// textFields are checked in order; the first non-empty string wins.
var textFields = []string{"response", "content", "message"}

type queryRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, http.StatusText(e.Code))
}

// HTTPProvider posts {"query","mode":"normal"} to the descriptor endpoint.
type HTTPProvider struct {
	client *http.Client
}

func NewHTTPProvider(client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{client: client}
}

func (p *HTTPProvider) Call(ctx context.Context, d registry.Descriptor, query string) (Reply, error) {
	body, err := json.Marshal(queryRequest{Query: query, Mode: "normal"})
	if err != nil {
		return Reply{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+d.Credential)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, &StatusError{Code: resp.StatusCode}
	}
	return parseReply(data)
}

// parseReply tolerates several response shapes. A JSON object without any text field is an empty reply.
func parseReply(data []byte) (Reply, error) {
	if !gjson.ValidBytes(data) {
		return Reply{}, ErrMalformedPayload
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Reply{}, fmt.Errorf("%w: expected JSON object", ErrMalformedPayload)
	}
	var r Reply
	for _, field := range textFields {
		if v := root.Get(field); v.Type == gjson.String && v.Str != "" {
			r.Text = v.Str
			break
		}
	}
	if v := root.Get("tokens"); v.Type == gjson.Number {
		r.Tokens = int(v.Int())
	}
	if v := root.Get("cost"); v.Type == gjson.Number {
		r.Cost = v.Float()
	}
	return r, nil
}
