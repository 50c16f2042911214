package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nexus-agent/nexus/pkg/models"
)

// maxErrorBody caps how much of an error response is kept in messages.
const maxErrorBody = 512

// postJSON sends body to desc.Endpoint+path and decodes a 2xx JSON reply
// into out. Failures are classified into the typed backend errors.
func postJSON(ctx context.Context, client *http.Client, desc models.BackendDescriptor, path string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &models.BackendCallError{Backend: desc.Name, Message: "marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return &models.BackendCallError{Backend: desc.Name, Message: "create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return classify(ctx, desc, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(ctx, desc, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &models.BackendCallError{Backend: desc.Name, StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &models.BackendCallError{Backend: desc.Name, StatusCode: resp.StatusCode, Message: "malformed response", Cause: err}
	}
	return nil
}

func classify(ctx context.Context, desc models.BackendDescriptor, msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &models.BackendTimeoutError{Backend: desc.Name, Timeout: desc.Timeout, Cause: err}
	}
	return &models.BackendCallError{Backend: desc.Name, Message: msg, Cause: err}
}

func bearer(apiKey string) map[string]string {
	if apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

func emptyContent(desc models.BackendDescriptor) error {
	return &models.BackendCallError{Backend: desc.Name, Message: fmt.Sprintf("empty completion from %s", desc.ModelID)}
}
