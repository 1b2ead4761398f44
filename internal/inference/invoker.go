// Package inference holds the client for the opaque detection service. The
// call is fire-and-forget: an accepted invocation produces a result artifact
// later, which re-enters the system as a storage notification.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"roomscan/pkg/models"
)

// Sentinel errors for invocation failures. All of them mean the job was NOT
// handed to the detector; none of them is a detection failure.
var (
	ErrRejected    = errors.New("inference invocation rejected")
	ErrUnreachable = errors.New("inference service unreachable")
	ErrTimeout     = errors.New("inference invocation timeout")
)

// InvokeRequest carries everything the detector needs. CorrelationID is the
// job id and doubles as the collaborator's idempotency token.
type InvokeRequest struct {
	CorrelationID uuid.UUID
	InputRef      models.ArtifactRef
	OutputRef     models.ArtifactRef
}

// Invoker is the interface for kicking off detection.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) error
}

// HTTPInvoker implements Invoker against the detection service's HTTP API.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPInvoker creates a new HTTPInvoker. The timeout bounds the invocation
// call only, never the asynchronous detection that follows it.
func NewHTTPInvoker(baseURL string, timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type invocationBody struct {
	CorrelationID string             `json:"correlationId"`
	InputRef      models.ArtifactRef `json:"inputRef"`
	OutputRef     models.ArtifactRef `json:"outputRef"`
}

func (c *HTTPInvoker) Invoke(ctx context.Context, req InvokeRequest) error {
	body, err := json.Marshal(invocationBody{
		CorrelationID: req.CorrelationID.String(),
		InputRef:      req.InputRef,
		OutputRef:     req.OutputRef,
	})
	if err != nil {
		return fmt.Errorf("marshal invocation: %w", err)
	}

	u := fmt.Sprintf("%s/invocations", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors. A timed-out
// invocation counts as a rejection, not a processing failure.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that HTTPInvoker implements Invoker.
var _ Invoker = (*HTTPInvoker)(nil)
