package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/signature"
)

const maxResponseBody = 1000 // cap on stored response body bytes

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int

	// Signature is the signature header that was sent, recomputed fresh
	// for every attempt.
	Signature string

	// TimestampMs is the millisecond timestamp signed into the payload.
	TimestampMs int64
}

// Request describes one HTTP delivery.
type Request struct {
	URL            string
	Secret         string
	Headers        map[string]string
	EventID        id.ID
	EventType      string
	RecordID       id.ID
	AppID          string
	InstallationID string
	Payload        []byte
}

// Sender performs HTTP webhook delivery.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the payload to the subscriber and returns the result. The
// signature covers "<timestamp_ms>.<payload>" so the receiver can bind the
// body to the moment it was signed.
func (s *Sender) Send(ctx context.Context, dr Request) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dr.URL, bytes.NewReader(dr.Payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	tsMs := time.Now().UnixMilli()
	sig := signature.Sign(dr.Payload, dr.Secret, tsMs)
	header := signature.FormatHeader(sig, tsMs)

	// Standard headers.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Herald/1.0")
	req.Header.Set("X-Herald-Event-ID", dr.EventID.String())
	req.Header.Set("X-Herald-Event-Type", dr.EventType)
	req.Header.Set("X-Herald-Delivery-ID", dr.RecordID.String())
	req.Header.Set("X-Herald-Timestamp", strconv.FormatInt(tsMs, 10))
	req.Header.Set("X-Herald-Signature", header)
	if dr.AppID != "" {
		req.Header.Set("X-Herald-App-ID", dr.AppID)
	}
	if dr.InstallationID != "" {
		req.Header.Set("X-Herald-Installation-ID", dr.InstallationID)
	}

	// Custom subscription headers.
	for k, v := range dr.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination; SSRF is by design.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:       err.Error(),
			LatencyMs:   int(latency),
			Signature:   header,
			TimestampMs: tsMs,
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode:  resp.StatusCode,
			Error:       fmt.Sprintf("read response: %v", readErr),
			LatencyMs:   int(latency),
			Signature:   header,
			TimestampMs: tsMs,
		}
	}

	return Result{
		StatusCode:  resp.StatusCode,
		Response:    string(respBody),
		LatencyMs:   int(latency),
		Signature:   header,
		TimestampMs: tsMs,
	}
}
