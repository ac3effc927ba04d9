package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/game"
	"github.com/quotagate/quotagate/game/internal/gameserver"
)

func testServer(t *testing.T, script gameserver.Script) (*Client, *gameserver.Server) {
	t.Helper()
	srv := gameserver.New(script)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return New(ts.URL, 5*time.Second), srv
}

func basicScript() gameserver.Script {
	return gameserver.Script{
		GameID:   "g-1",
		Capacity: 2,
		Constraints: []game.Constraint{
			{Attribute: "A", MinCount: 1},
		},
		Stats: game.AttributeStatistics{
			RelativeFrequencies: map[game.AttributeID]float64{"A": 0.5},
		},
		Candidates: []map[game.AttributeID]bool{
			{"A": true}, {"A": false}, {"A": true},
		},
	}
}

func TestNewGame(t *testing.T) {
	c, _ := testServer(t, basicScript())
	ng, err := c.NewGame(context.Background(), 1, "player-1")
	require.NoError(t, err)
	assert.Equal(t, "g-1", ng.GameID)
	require.Len(t, ng.Constraints, 1)
	assert.Equal(t, game.Constraint{Attribute: "A", MinCount: 1}, ng.Constraints[0])
	assert.Equal(t, 0.5, ng.AttributeStatistics.RelativeFrequencies["A"])
}

func TestDecideAndNext_FetchAndSubmit(t *testing.T) {
	c, _ := testServer(t, basicScript())
	ctx := context.Background()

	resp, err := c.DecideAndNext(ctx, "g-1", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, game.StatusRunning, resp.Status)
	require.NotNil(t, resp.NextPerson)
	assert.Equal(t, 0, resp.NextPerson.Index)
	assert.True(t, resp.NextPerson.Attributes["A"])

	accept := true
	resp, err = c.DecideAndNext(ctx, "g-1", 0, &accept)
	require.NoError(t, err)
	assert.Equal(t, game.StatusRunning, resp.Status)
	assert.Equal(t, 1, resp.AdmittedCount)
	assert.Equal(t, 1, resp.NextPerson.Index)
}

func TestDecideAndNext_IndexSkewIsTyped(t *testing.T) {
	c, _ := testServer(t, basicScript())
	accept := true
	_, err := c.DecideAndNext(context.Background(), "g-1", 2, &accept)

	var skew *ExpectedIndexError
	require.ErrorAs(t, err, &skew)
	assert.Equal(t, 0, skew.Expected)
	assert.Equal(t, 2, skew.Got)
	assert.False(t, IsTransient(err))
}

func TestParseExpectedIndex(t *testing.T) {
	skew, ok := parseExpectedIndex(`Game error: Expected person 5, got 7`)
	require.True(t, ok)
	assert.Equal(t, 5, skew.Expected)
	assert.Equal(t, 7, skew.Got)

	_, ok = parseExpectedIndex("some other failure")
	assert.False(t, ok)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTransient(&StatusError{Code: 503}))
	assert.False(t, IsTransient(&StatusError{Code: 404}))
	assert.False(t, IsTransient(&GameFailedError{Reason: "out of people"}))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(errors.New("connection reset by peer")))
}

func TestDecideAndNext_ServerErrorsSurface(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/decide-and-next", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL, time.Second)
	_, err := c.DecideAndNext(context.Background(), "g", 0, nil)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusInternalServerError, status.Code)
	assert.True(t, IsTransient(err))
}

func TestDecideAndNext_GameFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/decide-and-next", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"failed","reason":"game already finished"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL, time.Second)
	_, err := c.DecideAndNext(context.Background(), "g", 0, nil)
	var failed *GameFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "game already finished", failed.Reason)
}
