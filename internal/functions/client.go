// Package functions invokes the backing store's serverless functions by name.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"autolead.app/crm/common/metrics"
	"autolead.app/crm/core/config"
)

// ErrUnreachable covers transport failures, timeouts and gateway errors: the
// function never got to decide. Callers use it to pick degraded paths.
var ErrUnreachable = errors.New("functions endpoint unreachable")

// FunctionError is a response the function produced on purpose (non-2xx or success=false).
type FunctionError struct {
	Name    string
	Status  int
	Message string
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %s failed (%d): %s", e.Name, e.Status, e.Message)
}

const (
	NameCreateOrganization = "create-organization"
	NameUpdateDealership   = "update-dealership"
	NameSendInvitation     = "send-invitation"
	NameValidateInvite     = "validate-invite"
	NameUpdateProfile      = "update-profile"
)

const maxResponseBytes = 1 << 20

type Client interface {
	CreateOrganization(ctx context.Context, name, userID string) (string, error)
	UpdateDealership(ctx context.Context, req UpdateDealershipRequest) error
	SendInvitation(ctx context.Context, req SendInvitationRequest) error
	ValidateInvite(ctx context.Context, token string) (*ValidateInviteResponse, error)
	UpdateProfile(ctx context.Context, req UpdateProfileRequest) error
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(cfg config.FunctionsConfig) Client {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

func NewWithHTTPClient(cfg config.FunctionsConfig, hc *http.Client) Client {
	if hc.Timeout == 0 {
		hc.Timeout = 10 * time.Second
	}
	return &httpClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
	}
}

// invoke POSTs body as JSON to {baseURL}/{name} and decodes the reply into out.
func (c *httpClient) invoke(ctx context.Context, name string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+name, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.FunctionCalls.WithLabelValues(name, "unreachable").Inc()
		slog.WarnContext(ctx, "function unreachable", "function", name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.FunctionCalls.WithLabelValues(name, "unreachable").Inc()
		return fmt.Errorf("%w: reading %s response: %v", ErrUnreachable, name, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		metrics.FunctionCalls.WithLabelValues(name, "unreachable").Inc()
		return fmt.Errorf("%w: %s returned %d", ErrUnreachable, name, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.FunctionCalls.WithLabelValues(name, "error").Inc()
		return &FunctionError{Name: name, Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	metrics.FunctionCalls.WithLabelValues(name, "ok").Inc()
	slog.DebugContext(ctx, "function invoked", "function", name, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", name, err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
