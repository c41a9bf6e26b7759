package automount

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/netdev-automount/internal/fstab"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Performer carries out the per-entry decision. *Executor implements it.
type Performer interface {
	PerformMount(ctx context.Context, entry fstab.Entry, tries int) Outcome
	PerformUnmount(ctx context.Context, entry fstab.Entry, tries int) Outcome
}

// Recorder observes reconciliation results. It must be safe for
// concurrent use.
type Recorder interface {
	ObserveOutcome(o Outcome)
	ObservePass(action Action, entries int, elapsed time.Duration)
}

// Reconciler runs reconciliation passes.
type Reconciler struct {
	performer Performer
	recorder  Recorder
	logger    zerolog.Logger
}

// NewReconciler creates a new Reconciler. recorder may be nil.
func NewReconciler(performer Performer, recorder Recorder, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		performer: performer,
		recorder:  recorder,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile applies policy to every entry the policy's host filter allows.
// Each entry runs in its own goroutine; Reconcile returns once all of them
// have finished. Outcomes are in entry order. A panic while handling one
// entry becomes that entry's error outcome and does not affect the others.
//
// Reconcile panics if policy.Action is not a known action.
func (r *Reconciler) Reconcile(ctx context.Context, policy Policy, entries []fstab.Entry) []Outcome {
	perform := r.performFunc(policy.Action)

	selected := fstab.Filter(entries, func(e fstab.Entry) bool {
		return policy.Hosts.Allows(e.Host)
	})

	logger := r.logger.With().
		Str("pass_id", uuid.NewString()).
		Str("action", string(policy.Action)).
		Logger()
	logger.Info().
		Int("entries", len(selected)).
		Int("skipped", len(entries)-len(selected)).
		Int("tries", policy.Tries).
		Bool("reachability_check", policy.ChecksReachability()).
		Msg("starting reconciliation pass")

	start := time.Now()
	outcomes := make([]Outcome, len(selected))

	var wg conc.WaitGroup
	for i, entry := range selected {
		wg.Go(func() {
			outcomes[i] = r.runEntry(ctx, perform, policy, entry, logger)
		})
	}
	wg.Wait()

	elapsed := time.Since(start)
	if r.recorder != nil {
		r.recorder.ObservePass(policy.Action, len(selected), elapsed)
	}

	logger.Info().
		Int("changed", countWhere(outcomes, Outcome.Changed)).
		Int("failed", countWhere(outcomes, Outcome.Failed)).
		Dur("elapsed", elapsed).
		Msg("reconciliation pass complete")

	return outcomes
}

type performFunc func(ctx context.Context, entry fstab.Entry, tries int) Outcome

func (r *Reconciler) performFunc(action Action) performFunc {
	if !action.Valid() {
		panic(fmt.Sprintf("automount: unknown action %q", string(action)))
	}
	if action == ActionMount {
		return r.performer.PerformMount
	}
	return r.performer.PerformUnmount
}

func (r *Reconciler) runEntry(ctx context.Context, perform performFunc, policy Policy, entry fstab.Entry, logger zerolog.Logger) Outcome {
	start := time.Now()

	var out Outcome
	var pc panics.Catcher
	pc.Try(func() {
		out = perform(ctx, entry, policy.Tries)
	})
	if recovered := pc.Recovered(); recovered != nil {
		out = Outcome{
			Entry:  entry,
			Action: policy.Action,
			Status: StatusError,
			Err:    recovered.AsError(),
		}
		logger.Error().
			Str("host", entry.Host).
			Str("mountpoint", entry.Mountpoint).
			Interface("panic", recovered.Value).
			Str("stack", string(recovered.Stack)).
			Msg("entry handler panicked")
	}

	out.Duration = time.Since(start)
	if r.recorder != nil {
		r.recorder.ObserveOutcome(out)
	}
	return out
}

func countWhere(outcomes []Outcome, pred func(Outcome) bool) int {
	n := 0
	for _, o := range outcomes {
		if pred(o) {
			n++
		}
	}
	return n
}
