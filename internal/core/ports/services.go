package ports

import (
	"context"
	"time"

	"streamguard/internal/core/domain"
)

// SwitchLogic decides which scene should be live.
type SwitchLogic interface {
	Switch(ctx context.Context, triggers *domain.Triggers) domain.SwitchType
}

// Commands backs the bitrate and source info chat commands.
type Commands interface {
	Bitrate(ctx context.Context) domain.Bitrate
	// SourceInfo reports false when no reading is available.
	SourceInfo(ctx context.Context) (string, bool)
}

// Backend is a pluggable stream server. Implementations must be safe for
// concurrent use and never surface raw fetch errors through these methods.
type Backend interface {
	SwitchLogic
	Commands
	Kind() string
}

// MonitorService polls every enabled backend on an interval and fans the
// decisions out to subscribers.
type MonitorService interface {
	Run(ctx context.Context) error
	EvaluateOnce(ctx context.Context) []domain.Evaluation
	// Latest returns the decisions of the last completed tick.
	Latest() []domain.Evaluation
	// Subscribe returns a channel of evaluations and a func that closes it.
	Subscribe() (<-chan domain.Evaluation, func())
}

type EvaluationRecorder interface {
	RecordTick(d time.Duration)
	RecordEvaluation(e domain.Evaluation)
}
