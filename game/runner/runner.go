// Package runner couples the admission policy to the remote game protocol:
// the per-candidate loop, transient-error retries, index resync, and the
// durable event trail that makes a run replayable.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotagate/quotagate/game"
	"github.com/quotagate/quotagate/game/client"
	"github.com/quotagate/quotagate/game/eventlog"
	"github.com/quotagate/quotagate/game/policy"
	"github.com/quotagate/quotagate/game/replay"
)

// Backoff schedule for transient transport errors.
const (
	backoffBase   = 500 * time.Millisecond
	backoffFactor = 2
	backoffCap    = 10 * time.Second
)

// Config collects everything a run needs. The core never reads flags or the
// environment; the cmd layer resolves both into this struct.
type Config struct {
	BaseURL  string
	PlayerID string
	Scenario int
	Capacity int
	Timeout  time.Duration
	Retries  int

	PolicyName   string
	PolicyParams policy.Params

	LogPath          string
	LogInterval      int // progress events every N decisions (0 disables)
	ProgressInterval int // human progress lines every N decisions (0 disables)
	ProgressAttrs    int // top-K remaining needs shown in progress lines
}

// Result summarizes a finished game.
type Result struct {
	GameID    string
	Admitted  int
	Rejected  int
	Remaining map[game.AttributeID]int
	Satisfied bool
}

// Runner drives one game. At most one candidate is outstanding at any time;
// the policy and accounting are touched only from the calling goroutine.
type Runner struct {
	cfg    Config
	api    *client.Client
	log    *eventlog.Writer
	acct   *game.Accounting
	pol    policy.Policy
	gameID string

	observed  map[int]struct{}
	decisions int
	rejected  int
}

// New prepares a runner for a fresh game.
func New(cfg Config) (*Runner, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be > 0, got %d", cfg.Capacity)
	}
	w, err := eventlog.NewWriter(cfg.LogPath)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:      cfg,
		api:      client.New(cfg.BaseURL, cfg.Timeout),
		log:      w,
		observed: make(map[int]struct{}),
	}, nil
}

// Run plays a full game from scratch: start it, build policy and accounting
// from the server's scenario reply, fetch candidate 0, and loop until a
// terminal state.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ng, err := r.startGame(ctx)
	if err != nil {
		return nil, err
	}
	r.gameID = ng.GameID
	r.acct, err = game.NewAccounting(r.cfg.Capacity, ng.Constraints)
	if err != nil {
		return nil, err
	}
	if err := checkFeasible(r.acct); err != nil {
		return r.fail(err)
	}
	r.pol = policy.New(r.cfg.PolicyName, r.acct, ng.AttributeStatistics, r.cfg.PolicyParams)

	if err := r.log.Start(r.cfg.Scenario, r.gameID, r.cfg.Capacity, ng.Constraints,
		ng.AttributeStatistics, r.cfg.PolicyName, paramsForLog(r.cfg)); err != nil {
		return nil, err
	}
	logrus.Infof("game %s started: capacity=%d constraints=%d policy=%s",
		r.gameID, r.cfg.Capacity, len(ng.Constraints), r.cfg.PolicyName)

	resp, err := r.fetch(ctx, 0)
	if err != nil {
		return r.fail(err)
	}
	return r.loop(ctx, resp)
}

// Resume continues a reconstructed game from st.NextIndex. The caller built
// st with replay.FromLog or assembled it manually from a known game id.
func (r *Runner) Resume(ctx context.Context, st *replay.State) (*Result, error) {
	r.gameID = st.GameID
	r.acct = st.Accounting
	r.pol = st.Policy
	r.rejected = st.Rejected
	if st.Observed != nil {
		r.observed = st.Observed
	}
	if err := checkFeasible(r.acct); err != nil {
		return r.fail(err)
	}
	logrus.Infof("resuming game %s at index %d: admitted=%d rejected=%d",
		r.gameID, st.NextIndex, r.acct.Admitted, r.rejected)

	resp, err := r.fetch(ctx, st.NextIndex)
	var skew *client.ExpectedIndexError
	if errors.As(err, &skew) {
		// The log was ahead of or behind the server by one submission.
		if err := r.log.Resync(r.gameID, skew.Expected, skew.Got); err != nil {
			return nil, err
		}
		resp, err = r.fetch(ctx, skew.Expected)
	}
	if err != nil {
		return r.fail(err)
	}
	return r.loop(ctx, resp)
}

// checkFeasible rejects a game whose quotas cannot fit the remaining seats.
// Under the reserve rule this never regresses mid-game, so tripping it later
// would be a programming error.
func checkFeasible(acct *game.Accounting) error {
	if s, rem := acct.Slack(), acct.Remaining(); s > rem {
		return fmt.Errorf("infeasible: outstanding need %d exceeds remaining capacity %d", s, rem)
	}
	return nil
}

// startGame begins a new game with the transient-retry budget applied.
func (r *Runner) startGame(ctx context.Context) (game.NewGameResponse, error) {
	var ng game.NewGameResponse
	err := r.withRetry(ctx, "new-game", func() error {
		var err error
		ng, err = r.api.NewGame(ctx, r.cfg.Scenario, r.cfg.PlayerID)
		return err
	})
	return ng, err
}

// fetch retrieves the candidate at index without submitting a decision.
func (r *Runner) fetch(ctx context.Context, index int) (game.DecideAndNextResponse, error) {
	var resp game.DecideAndNextResponse
	err := r.withRetry(ctx, "fetch", func() error {
		var err error
		resp, err = r.api.DecideAndNext(ctx, r.gameID, index, nil)
		return err
	})
	return resp, err
}

// submit sends the decision for index and fetches the next candidate.
func (r *Runner) submit(ctx context.Context, index int, d game.Decision) (game.DecideAndNextResponse, error) {
	accept := d.Accepted()
	var resp game.DecideAndNextResponse
	err := r.withRetry(ctx, "submit", func() error {
		var err error
		resp, err = r.api.DecideAndNext(ctx, r.gameID, index, &accept)
		return err
	})
	return resp, err
}

// loop is the per-candidate state machine. Events for a candidate are
// durable before its decision is submitted, so a crash at any point leaves a
// replayable trail.
func (r *Runner) loop(ctx context.Context, resp game.DecideAndNextResponse) (*Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if resp.Status == game.StatusCompleted {
			return r.complete(resp)
		}
		c := *resp.NextPerson

		if err := r.log.Request(r.gameID, c.Index, c.Attributes); err != nil {
			return nil, err
		}
		var d game.Decision
		if _, seen := r.observed[c.Index]; !seen {
			d = r.pol.Decide(c, r.acct)
			r.observed[c.Index] = struct{}{}
		} else {
			// Re-served after a resync: the estimators already consumed this
			// index once.
			d = r.pol.Redecide(c, r.acct)
		}
		if d.Accepted() {
			if err := r.acct.RecordAccept(c.Attributes); err != nil {
				return r.fail(err)
			}
			r.pol.OnAccept(c)
		} else {
			r.rejected++
		}
		if err := r.log.Response(r.gameID, c.Index, d); err != nil {
			return nil, err
		}
		r.decisions++
		r.progress(c.Index, d)

		full := r.acct.Remaining() == 0
		if full {
			if err := r.log.Completed(r.gameID, r.acct.Admitted, r.rejected, "capacity filled"); err != nil {
				return nil, err
			}
		}

		next, err := r.submit(ctx, c.Index, d)
		var skew *client.ExpectedIndexError
		if errors.As(err, &skew) {
			next, err = r.resync(ctx, skew, c, d)
		}
		if err != nil {
			return r.fail(err)
		}
		// Re-check after the submit: a resync rollback can reopen capacity.
		if r.acct.Remaining() == 0 {
			return r.finish(next), nil
		}
		resp = next
	}
}

// resync realigns with the server's expected index. A submission the server
// refused was never processed, so a recorded accept for it is rolled back;
// the policy keeps its observation and the candidate will be re-decided
// against current state when the server re-serves it.
func (r *Runner) resync(ctx context.Context, skew *client.ExpectedIndexError, c game.Candidate, d game.Decision) (game.DecideAndNextResponse, error) {
	logrus.Warnf("index skew: server expects %d, submitted %d", skew.Expected, skew.Got)
	if skew.Expected <= skew.Got {
		if d.Accepted() {
			if err := r.acct.RollbackAccept(c.Attributes); err != nil {
				return game.DecideAndNextResponse{}, err
			}
		} else {
			r.rejected--
		}
		r.decisions--
	}
	if err := r.log.Resync(r.gameID, skew.Expected, skew.Got); err != nil {
		return game.DecideAndNextResponse{}, err
	}
	return r.fetch(ctx, skew.Expected)
}

// withRetry runs op with exponential backoff on transient errors.
func (r *Runner) withRetry(ctx context.Context, what string, op func() error) error {
	delay := backoffBase
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !client.IsTransient(err) {
			return err
		}
		if attempt >= r.cfg.Retries {
			return fmt.Errorf("%s: retry budget exhausted: %w", what, err)
		}
		logrus.Warnf("%s attempt %d failed, retrying in %s: %v", what, attempt+1, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= backoffFactor
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// progress emits the periodic event record and human-readable line.
func (r *Runner) progress(index int, d game.Decision) {
	if r.cfg.LogInterval > 0 && r.decisions%r.cfg.LogInterval == 0 {
		if err := r.log.Progress(r.gameID, r.acct.Admitted, r.rejected, r.acct.CountByAttr); err != nil {
			logrus.Errorf("progress event: %v", err)
		}
	}
	if r.cfg.ProgressInterval > 0 && r.decisions%r.cfg.ProgressInterval == 0 {
		top := r.acct.TopNeeds(r.cfg.ProgressAttrs)
		topStr := "ok"
		if len(top) > 0 {
			topStr = ""
			for i, t := range top {
				if i > 0 {
					topStr += ", "
				}
				topStr += fmt.Sprintf("%s:%d", t.Attribute, t.MinCount)
			}
		}
		logrus.Infof("idx=%d adm=%d rej=%d last=%s cap_left=%d need_sum=%d top=[%s]",
			index, r.acct.Admitted, r.rejected, d, r.acct.Remaining(), r.acct.Slack(), topStr)
	}
}

// complete handles a server-reported completed status.
func (r *Runner) complete(resp game.DecideAndNextResponse) (*Result, error) {
	if err := r.log.Completed(r.gameID, r.acct.Admitted, resp.RejectedCount, resp.Reason); err != nil {
		return nil, err
	}
	res := r.finish(resp)
	logrus.Infof("game %s completed: admitted=%d rejected=%d satisfied=%t",
		r.gameID, res.Admitted, res.Rejected, res.Satisfied)
	return res, nil
}

// finish assembles the result, preferring the server's rejection count when
// it reports one.
func (r *Runner) finish(resp game.DecideAndNextResponse) *Result {
	rejected := r.rejected
	if resp.RejectedCount > 0 {
		rejected = resp.RejectedCount
	}
	return &Result{
		GameID:    r.gameID,
		Admitted:  r.acct.Admitted,
		Rejected:  rejected,
		Remaining: r.acct.NeedAll(),
		Satisfied: r.acct.Satisfied(),
	}
}

// fail records the terminal failure in the log before returning it.
func (r *Runner) fail(err error) (*Result, error) {
	if logErr := r.log.Failed(r.gameID, err.Error()); logErr != nil {
		logrus.Errorf("failed event: %v", logErr)
	}
	return nil, err
}

// paramsForLog snapshots the policy construction parameters for the start
// event so reconstruction can restore them.
func paramsForLog(cfg Config) map[string]any {
	p := cfg.PolicyParams
	out := map[string]any{}
	if p.Alpha != nil {
		out["alpha"] = *p.Alpha
	}
	if p.RiskMargin != nil {
		out["riskMargin"] = *p.RiskMargin
	}
	if p.Warmup != nil {
		out["warmup"] = *p.Warmup
	}
	if p.WindowSize != nil {
		out["windowSize"] = *p.WindowSize
	}
	if p.MinObservations != nil {
		out["minObservations"] = *p.MinObservations
	}
	if p.GateTopK != nil {
		out["gateTopK"] = *p.GateTopK
	}
	if p.CorrAware {
		out["corrAware"] = true
	}
	if p.CorrBeta != nil {
		out["corrBeta"] = *p.CorrBeta
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
