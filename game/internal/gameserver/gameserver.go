// Package gameserver is a scripted in-process game server used by
// integration tests. It enforces the expected-index protocol and can inject
// transient failures and index skew.
package gameserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/quotagate/quotagate/game"
)

// Script fixes the candidate stream and fault injection for one game.
type Script struct {
	GameID      string
	Capacity    int
	Constraints []game.Constraint
	Stats       game.AttributeStatistics
	Candidates  []map[game.AttributeID]bool

	// FailuresAt maps a candidate index to a number of 500 replies served
	// before a submission for that index succeeds.
	FailuresAt map[int]int

	// JumpTo > 0 makes the server erroneously serve candidate JumpTo (once)
	// when it is about to serve JumpAt, while still expecting JumpAt. The
	// following submission then draws an "Expected person X, got Y" reply,
	// simulating index drift.
	JumpAt int
	JumpTo int
}

// Server implements the game wire protocol over a scripted candidate stream.
type Server struct {
	router *mux.Router
	script Script

	expected int
	admitted int
	rejected int
	jumped   bool

	// Decisions records the decision of every processed submission, keyed by
	// candidate index.
	Decisions map[int]bool
}

// New creates a server for the script.
func New(script Script) *Server {
	s := &Server{
		script:    script,
		Decisions: make(map[int]bool),
	}
	if script.FailuresAt == nil {
		s.script.FailuresAt = map[int]int{}
	}
	r := mux.NewRouter()
	r.HandleFunc("/new-game", s.handleNewGame).Methods(http.MethodGet)
	r.HandleFunc("/decide-and-next", s.handleDecideAndNext).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Admitted returns the server-side admitted count.
func (s *Server) Admitted() int { return s.admitted }

// Rejected returns the server-side rejected count.
func (s *Server) Rejected() int { return s.rejected }

func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("playerId") == "" {
		http.Error(w, "missing playerId", http.StatusBadRequest)
		return
	}
	writeJSON(w, game.NewGameResponse{
		GameID:              s.script.GameID,
		Constraints:         s.script.Constraints,
		AttributeStatistics: s.script.Stats,
	})
}

func (s *Server) handleDecideAndNext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("gameId") != s.script.GameID {
		http.Error(w, "unknown gameId", http.StatusNotFound)
		return
	}
	index, err := strconv.Atoi(q.Get("personIndex"))
	if err != nil {
		http.Error(w, "bad personIndex", http.StatusBadRequest)
		return
	}
	acceptParam := q.Get("accept")

	if acceptParam == "" {
		// Fetch without a decision: serve the candidate at index if it is
		// the one the server expects next.
		if index != s.expected {
			writeJSON(w, failedSkew(s.expected, index))
			return
		}
		s.serveCurrent(w)
		return
	}

	if n := s.script.FailuresAt[index]; n > 0 {
		s.script.FailuresAt[index] = n - 1
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}
	if index != s.expected {
		writeJSON(w, failedSkew(s.expected, index))
		return
	}

	accept, err := strconv.ParseBool(acceptParam)
	if err != nil {
		http.Error(w, "bad accept", http.StatusBadRequest)
		return
	}
	s.Decisions[index] = accept
	if accept {
		s.admitted++
	} else {
		s.rejected++
	}
	s.expected++
	if s.admitted >= s.script.Capacity {
		writeJSON(w, game.DecideAndNextResponse{
			Status:        game.StatusCompleted,
			AdmittedCount: s.admitted,
			RejectedCount: s.rejected,
			Reason:        "capacity filled",
		})
		return
	}
	s.serveCurrent(w)
}

// serveCurrent sends the candidate at the expected index, or a terminal
// status when the script is exhausted.
func (s *Server) serveCurrent(w http.ResponseWriter) {
	serve := s.expected
	if !s.jumped && s.script.JumpTo > 0 && s.expected == s.script.JumpAt {
		s.jumped = true
		serve = s.script.JumpTo
	}
	if serve >= len(s.script.Candidates) {
		writeJSON(w, game.DecideAndNextResponse{
			Status:        game.StatusFailed,
			AdmittedCount: s.admitted,
			RejectedCount: s.rejected,
			Reason:        "candidate stream exhausted",
		})
		return
	}
	writeJSON(w, game.DecideAndNextResponse{
		Status:        game.StatusRunning,
		AdmittedCount: s.admitted,
		RejectedCount: s.rejected,
		NextPerson: &game.Candidate{
			Index:      serve,
			Attributes: s.script.Candidates[serve],
		},
	})
}

func failedSkew(expected, got int) game.DecideAndNextResponse {
	return game.DecideAndNextResponse{
		Status: game.StatusFailed,
		Reason: fmt.Sprintf("Expected person %d, got %d", expected, got),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
