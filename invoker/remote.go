package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tealrun/teal/errs"
)

// Retry policy for DispatchError (spec 9 open question (b), resolved in
// SPEC_FULL.md 4): bounded exponential backoff with full jitter.
const (
	maxAttempts = 5
	baseDelay   = 100 * time.Millisecond
	maxDelay    = 5 * time.Second
)

// Remote is the out-of-process Invoker backend (spec 4.6 "Remote"): it asks
// a dispatcher function -- another worker instance reachable over HTTP, the
// local stand-in for a cloud function invocation -- to run one VM cycle for
// (sessionID, threadID) and retries transport failures with jitter.
type Remote struct {
	client        *http.Client
	dispatcherURL string
}

// NewRemote builds a Remote invoker that POSTs dispatch requests to
// dispatcherURL (the configured dispatcher function's HTTP endpoint, spec
// §6 "a dispatcher function name used to invoke peers").
func NewRemote(dispatcherURL string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Remote{client: client, dispatcherURL: dispatcherURL}
}

type dispatchRequest struct {
	SessionID string `json:"session_id"`
	ThreadID  int    `json:"thread_id"`
}

// Invoke POSTs a dispatch request, making up to maxAttempts attempts with
// full-jitter exponential backoff between them. Transport failures and
// non-2xx responses are both retried; once the attempts are used up the
// last failure surfaces as errs.DispatchError.
func (r *Remote) Invoke(ctx context.Context, sessionID string, threadID int) error {
	body, err := json.Marshal(dispatchRequest{SessionID: sessionID, ThreadID: threadID})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.dispatcherURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("dispatcher responded %s", resp.Status)
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		delay := backoff(attempt)
		now := time.Now()
		log.Printf("invoker: dispatch session=%s thread=%d attempt=%d failed (%v), retrying %s",
			sessionID, threadID, attempt, err, humanize.RelTime(now.Add(delay), now, "ago", "from now"))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return errs.NewDispatchError(sessionID, threadID, maxAttempts, lastErr)
}

// backoff returns a full-jitter exponential delay for the given attempt
// number (1-indexed): a uniform random value in
// [0, min(maxDelay, base*2^(attempt-1))).
func backoff(attempt int) time.Duration {
	ceiling := baseDelay << uint(attempt-1)
	if ceiling > maxDelay || ceiling <= 0 {
		ceiling = maxDelay
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}
