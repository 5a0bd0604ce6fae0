package events

import (
	"log/slog"

	"stakepool/core/types"
)

type renderer interface {
	Event() *types.Event
}

// LogEmitter writes every emitted event to a structured logger. It is the
// default sink for single-process deployments without an external indexer.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements the Emitter interface.
func (l LogEmitter) Emit(evt Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if evt == nil {
		return
	}
	r, ok := evt.(renderer)
	if !ok {
		logger.Info("staking event", "type", evt.EventType())
		return
	}
	rendered := r.Event()
	args := make([]any, 0, 2+2*len(rendered.Attributes))
	args = append(args, "type", rendered.Type)
	for key, value := range rendered.Attributes {
		args = append(args, key, value)
	}
	logger.Info("staking event", args...)
}
