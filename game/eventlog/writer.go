package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quotagate/quotagate/game"
)

// Writer appends NDJSON records to a log file. Every append opens the file,
// writes one line, fsyncs, and closes the handle before returning, so the
// replay gap after a crash is bounded to a single candidate. A write failure
// is fatal to the caller: without a durable log, resume is unsound.
type Writer struct {
	path string
}

// NewWriter creates the parent directory if needed and returns a writer for
// path.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	return &Writer{path: path}, nil
}

// Path returns the log file path.
func (w *Writer) Path() string { return w.path }

// Append writes one record as a single line, stamping ts if unset.
func (w *Writer) Append(rec Record) error {
	if rec.TS == "" {
		rec.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", rec.Kind, err)
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append %s event: %w", rec.Kind, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	return f.Close()
}

// Start logs game setup including scenario priors so a resumed run can
// restore them.
func (w *Writer) Start(scenario int, gameID string, capacity int, constraints []game.Constraint,
	stats game.AttributeStatistics, policy string, params map[string]any) error {
	mins := make(map[string]int, len(constraints))
	for _, c := range constraints {
		mins[c.Attribute] = c.MinCount
	}
	return w.Append(Record{
		Kind:                KindStart,
		Scenario:            scenario,
		GameID:              gameID,
		Capacity:            capacity,
		Constraints:         mins,
		RelativeFrequencies: stats.RelativeFrequencies,
		Correlations:        stats.Correlations,
		Policy:              policy,
		PolicyParams:        params,
	})
}

// Request logs a candidate arrival before the policy is consulted.
func (w *Writer) Request(gameID string, index int, attrs map[game.AttributeID]bool) error {
	return w.Append(Record{
		Kind:        KindRequest,
		GameID:      gameID,
		PersonIndex: intPtr(index),
		Attributes:  attrs,
	})
}

// Response logs the decision rendered for a candidate.
func (w *Writer) Response(gameID string, index int, d game.Decision) error {
	return w.Append(Record{
		Kind:        KindResponse,
		GameID:      gameID,
		PersonIndex: intPtr(index),
		Decision:    string(d),
	})
}

// Progress logs a periodic accounting snapshot.
func (w *Writer) Progress(gameID string, admitted, rejected int, countByAttr map[game.AttributeID]int) error {
	return w.Append(Record{
		Kind:        KindProgress,
		GameID:      gameID,
		Admitted:    intPtr(admitted),
		Rejected:    intPtr(rejected),
		CountByAttr: countByAttr,
	})
}

// Resync logs a server-reported index skew.
func (w *Writer) Resync(gameID string, expected, submitted int) error {
	return w.Append(Record{
		Kind:      KindResync,
		GameID:    gameID,
		Expected:  intPtr(expected),
		Submitted: intPtr(submitted),
	})
}

// Completed logs the terminal success state.
func (w *Writer) Completed(gameID string, admitted, rejected int, reason string) error {
	return w.Append(Record{
		Kind:     KindCompleted,
		GameID:   gameID,
		Admitted: intPtr(admitted),
		Rejected: intPtr(rejected),
		Reason:   reason,
	})
}

// Failed logs the terminal failure state.
func (w *Writer) Failed(gameID string, errMsg string) error {
	return w.Append(Record{
		Kind:   KindFailed,
		GameID: gameID,
		Error:  errMsg,
	})
}
