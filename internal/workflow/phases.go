package workflow

import (
	"context"
	"fmt"
	"log/slog"
)

// RunPhasedGeneration executes units in order, walking each through
// pending → inProgress → completed|error. A unit that fails is tagged degraded
// and the phase continues; only context cancellation aborts the batch. The
// returned progress carries every unit's terminal result.
func RunPhasedGeneration(ctx context.Context, units []Unit, onProgress func(PhaseProgress)) (*PhaseProgress, error) {
	progress := &PhaseProgress{
		Total: len(units),
		Units: make([]UnitResult, len(units)),
	}
	for i, u := range units {
		progress.Units[i] = UnitResult{UnitID: u.ID, Title: u.Title, State: UnitPending}
	}
	notify(onProgress, progress)

	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return progress, fmt.Errorf("phase aborted before unit %s: %w", u.ID, err)
		}

		progress.CurrentPhase = i + 1
		progress.Units[i].State = UnitInProgress
		notify(onProgress, progress)

		output, err := u.Generate(ctx)
		if err != nil {
			// Cancellation is not a degraded unit; surface it as a phase abort.
			if ctxErr := ctx.Err(); ctxErr != nil {
				progress.Units[i].State = UnitError
				progress.Units[i].Error = err.Error()
				progress.ErrorCount++
				return progress, fmt.Errorf("phase aborted in unit %s: %w", u.ID, ctxErr)
			}
			progress.Units[i].State = UnitError
			progress.Units[i].Degraded = true
			progress.Units[i].Error = err.Error()
			progress.ErrorCount++
			slog.Warn("generation unit degraded",
				"unit_id", u.ID,
				"error", err,
			)
			notify(onProgress, progress)
			continue
		}

		progress.Units[i].State = UnitCompleted
		progress.Units[i].Output = output
		progress.SuccessCount++
		notify(onProgress, progress)
	}

	return progress, nil
}

func notify(onProgress func(PhaseProgress), p *PhaseProgress) {
	if onProgress == nil {
		return
	}
	// Copy so the callback cannot mutate the runner's state.
	snapshot := *p
	snapshot.Units = make([]UnitResult, len(p.Units))
	copy(snapshot.Units, p.Units)
	onProgress(snapshot)
}
