package stage

import (
	"time"

	"github.com/kiosk404/echoryn/internal/kernel/event"
)

// PipelineExecutionCompleted is emitted after every pipeline run given a
// dispatcher, success or failure (spec §4.4).
type PipelineExecutionCompleted struct {
	event.Base
	PipelineName string
	Success      bool
	Timestamp    time.Time
}

func newPipelineCompletedEvent(pipelineName string, success bool) PipelineExecutionCompleted {
	return PipelineExecutionCompleted{
		Base:         event.NewBase("PipelineExecutionCompleted", event.Normal),
		PipelineName: pipelineName,
		Success:      success,
		Timestamp:    time.Now(),
	}
}

func (e PipelineExecutionCompleted) Clone() event.Event { return e }
