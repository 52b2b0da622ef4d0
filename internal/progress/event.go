// Package progress defines the event stream emitted by running jobs and the
// hub that fans events out to sinks without ever blocking the emitter.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageJobStart Stage = "JOB_START"
	StageItemDone Stage = "ITEM_DONE"
	StageJobDone  Stage = "JOB_DONE"
)

// Outcome classifies a processed item.
type Outcome string

// Supported item outcomes.
const (
	OutcomeScored  Outcome = "scored"
	OutcomeErrored Outcome = "errored"
	OutcomeSkipped Outcome = "skipped"
)

// Event captures a single progress milestone of a sentiment job.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the milestone kind.
	Stage Stage
	// Outcome is set for ITEM_DONE events.
	Outcome Outcome
	// Processed counts items handled so far, including this one.
	Processed int64
	// Total is the estimated number of items the job will handle.
	Total int64
	// Status carries the terminal status for JOB_DONE events.
	Status string
	// Note holds low-volume context such as the last error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart:
	case StageItemDone:
		switch e.Outcome {
		case OutcomeScored, OutcomeErrored, OutcomeSkipped:
		default:
			return fmt.Errorf("unknown outcome %q", e.Outcome)
		}
	case StageJobDone:
		if e.Status == "" {
			return errors.New("job done requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
