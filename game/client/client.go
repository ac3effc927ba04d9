// Package client implements the typed HTTP client for the game server.
// It decodes responses and classifies errors; all retrying is the runner's
// concern.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotagate/quotagate/game"
)

// ExpectedIndexError is the server's index-skew report. It is always
// recoverable via resync and never counts against the retry budget.
type ExpectedIndexError struct {
	Expected int
	Got      int
}

func (e *ExpectedIndexError) Error() string {
	return fmt.Sprintf("expected person %d, got %d", e.Expected, e.Got)
}

// StatusError is a non-2xx HTTP reply. 5xx responses are transient.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// GameFailedError is a terminal failed status from the game itself.
type GameFailedError struct {
	Reason   string
	Admitted int
	Rejected int
}

func (e *GameFailedError) Error() string { return fmt.Sprintf("game failed: %s", e.Reason) }

var expectedIndexRe = regexp.MustCompile(`Expected person (\d+), got (\d+)`)

// parseExpectedIndex extracts an index-skew report from an error string.
func parseExpectedIndex(s string) (*ExpectedIndexError, bool) {
	m := expectedIndexRe.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	expected, err1 := strconv.Atoi(m[1])
	got, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return nil, false
	}
	return &ExpectedIndexError{Expected: expected, Got: got}, true
}

// IsTransient reports whether err is worth a backoff-and-retry: timeouts,
// connection errors, and 5xx replies. Index skew, 4xx, and caller
// cancellation are not transient.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var skew *ExpectedIndexError
	if errors.As(err, &skew) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}
	var failed *GameFailedError
	if errors.As(err, &failed) {
		return false
	}
	// Remaining errors are transport-level (timeouts, resets, DNS).
	return true
}

// Client talks to the game server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	logrus.Debugf("GET %s", u)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		text := strings.TrimSpace(string(body))
		if skew, ok := parseExpectedIndex(text); ok {
			return skew
		}
		return &StatusError{Code: resp.StatusCode, Body: text}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// NewGame starts a new game for the scenario and player.
func (c *Client) NewGame(ctx context.Context, scenario int, playerID string) (game.NewGameResponse, error) {
	params := url.Values{}
	params.Set("scenario", strconv.Itoa(scenario))
	params.Set("playerId", playerID)
	var out game.NewGameResponse
	if err := c.get(ctx, "/new-game", params, &out); err != nil {
		return game.NewGameResponse{}, err
	}
	if out.GameID == "" {
		return game.NewGameResponse{}, fmt.Errorf("new-game reply missing gameId")
	}
	return out, nil
}

// DecideAndNext submits the decision for personIndex and fetches the next
// candidate. A nil accept fetches the candidate at personIndex without
// deciding (used for candidate 0 and post-resync refetches). A failed status
// whose reason reports index skew is returned as *ExpectedIndexError; other
// failed statuses as *GameFailedError.
func (c *Client) DecideAndNext(ctx context.Context, gameID string, personIndex int, accept *bool) (game.DecideAndNextResponse, error) {
	params := url.Values{}
	params.Set("gameId", gameID)
	params.Set("personIndex", strconv.Itoa(personIndex))
	if accept != nil {
		params.Set("accept", strconv.FormatBool(*accept))
	}
	var out game.DecideAndNextResponse
	if err := c.get(ctx, "/decide-and-next", params, &out); err != nil {
		return game.DecideAndNextResponse{}, err
	}
	switch out.Status {
	case game.StatusRunning:
		if out.NextPerson == nil {
			return game.DecideAndNextResponse{}, fmt.Errorf("running reply missing nextPerson")
		}
		return out, nil
	case game.StatusCompleted:
		return out, nil
	case game.StatusFailed:
		if skew, ok := parseExpectedIndex(out.Reason); ok {
			return game.DecideAndNextResponse{}, skew
		}
		return game.DecideAndNextResponse{}, &GameFailedError{
			Reason:   out.Reason,
			Admitted: out.AdmittedCount,
			Rejected: out.RejectedCount,
		}
	default:
		return game.DecideAndNextResponse{}, fmt.Errorf("unexpected status %q in decide-and-next reply", out.Status)
	}
}
