package services

import (
	"time"

	"github.com/imyashkale/fleetd/internal/models"
)

// RecordSizeLimit bounds the total captured output kept on one record
const RecordSizeLimit = 400 * 1024

// stepRecorder appends step results to a record while keeping the
// record's total output under RecordSizeLimit. Once the budget is spent,
// later steps keep their metadata but lose their output.
type stepRecorder struct {
	rec  *models.ExecutionRecord
	used int
}

func newStepRecorder(rec *models.ExecutionRecord) *stepRecorder {
	return &stepRecorder{rec: rec}
}

func (r *stepRecorder) add(step models.StepResult) {
	size := len(step.Output)
	if r.used+size > RecordSizeLimit {
		remaining := RecordSizeLimit - r.used
		if remaining < 0 {
			remaining = 0
		}
		step.Output = step.Output[len(step.Output)-remaining:]
		if remaining == 0 {
			step.Output = "[output dropped: execution output budget exhausted]"
		}
		step.Truncated = true
		size = remaining
	}
	r.used += size
	r.rec.AddStep(step)
}

// note records a step that did not run a process
func (r *stepRecorder) note(phase models.Phase, index int, name, message string, at time.Time) {
	r.add(models.StepResult{
		Phase:     phase,
		Index:     index,
		Name:      name,
		Output:    message,
		StartedAt: at,
	})
}
