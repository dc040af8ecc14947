package progress

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the progress stream payloads.
type EventType string

const (
	TypeLog   EventType = "log"
	TypeStep  EventType = "step"
	TypeInfo  EventType = "info"
	TypeDone  EventType = "done"
	TypeError EventType = "error"
)

// StepStatus marks whether a pipeline stage is starting or finished.
type StepStatus string

const (
	StepStart StepStatus = "start"
	StepOK    StepStatus = "ok"
)

// Event is one entry in a job's progress stream. The stream is ordered,
// append-only and at-most-once per event: a consumer that disconnects should
// re-fetch job status instead of assuming missed events are recoverable.
type Event struct {
	Type EventType `json:"type"`

	// log
	Message string `json:"message,omitempty"`

	// step
	Name            string     `json:"name,omitempty"`
	Status          StepStatus `json:"status,omitempty"`
	ProgressPercent int        `json:"progressPercent,omitempty"`

	// info, free-form fields flattened into the JSON object
	Fields map[string]any `json:"-"`

	// done
	ArtifactRef string `json:"artifactRef,omitempty"`
	UsedContext string `json:"usedContext,omitempty"`
	JobID       string `json:"jobId,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// MarshalJSON flattens the free-form info fields into the top-level object so
// consumers see `{"type":"info","query":"..."}` rather than a nested map.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if len(e.Fields) == 0 {
		return json.Marshal(plain(e))
	}

	base, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(e.Fields)+4)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Fields {
		if k == "type" {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Log builds a log event from a printf-style message.
func Log(format string, args ...any) Event {
	return Event{Type: TypeLog, Message: fmt.Sprintf(format, args...)}
}

// Step builds a stage boundary event. percent is the overall pipeline
// progress after this stage, 0-100.
func Step(name string, status StepStatus, percent int) Event {
	return Event{Type: TypeStep, Name: name, Status: status, ProgressPercent: percent}
}

// Info builds a free-form informational event.
func Info(fields map[string]any) Event {
	return Event{Type: TypeInfo, Fields: fields}
}

// Done builds the terminal success event.
func Done(artifactRef, usedContext, jobID string) Event {
	return Event{Type: TypeDone, ArtifactRef: artifactRef, UsedContext: usedContext, JobID: jobID}
}

// Fail builds the terminal failure event.
func Fail(err error) Event {
	return Event{Type: TypeError, Error: err.Error()}
}
