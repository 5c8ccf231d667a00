package pool

import (
	"errors"

	"github.com/utkarsh5026/procpool/internal/scheduler"
	"github.com/utkarsh5026/procpool/internal/supervisor"
	"github.com/utkarsh5026/procpool/internal/wire"
)

// outcomeError turns the error of a failed chunk into its public form.
func outcomeError(o scheduler.Outcome) error {
	var (
		death   *supervisor.Death
		failure *wire.Failure
	)
	switch {
	case errors.As(o.Err, &death):
		return &DeathError{
			Chunk:    o.Index,
			WorkerID: death.WorkerID,
			PID:      death.PID,
			ExitCode: death.ExitCode,
			Signal:   death.Signal,
			cause:    death.Cause,
		}
	case errors.As(o.Err, &failure):
		index := -1
		if failure.Element >= 0 {
			index = o.Offset + failure.Element
		}
		return &FunctionError{
			Chunk:    o.Index,
			Index:    index,
			WorkerID: o.WorkerID,
			PID:      o.PID,
			Message:  failure.Message,
			Type:     failure.Type,
			Stack:    failure.Stack,
			Panic:    failure.Kind == wire.FailPanic,
			cause:    failure.Cause,
		}
	default:
		return classify(o.Err)
	}
}

// exhausted builds an ExhaustedError carrying every slot's last spawn error.
func exhausted(sup *supervisor.Supervisor) *ExhaustedError {
	e := &ExhaustedError{}
	for _, info := range sup.Snapshot() {
		e.Slots = append(e.Slots, info.Err)
	}
	return e
}
