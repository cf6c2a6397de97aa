package cron

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// ActionResult is the outcome of an Add/Update/Remove call, shaped for
// direct return to the agent as a tool result.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"jobId,omitempty"`
}

// Actions is the add/list/update/remove facade over a Store and its Timer,
// validating input before any mutation and rearming the timer on success.
type Actions struct {
	store *Store
	timer *Timer
}

func NewActions(store *Store, timer *Timer) *Actions {
	return &Actions{store: store, timer: timer}
}

func (a *Actions) List() ([]domain.CronJob, error) {
	return a.store.Load()
}

func (a *Actions) Add(label string, schedule domain.Schedule, payloadText string) ActionResult {
	if strings.TrimSpace(payloadText) == "" {
		return ActionResult{Success: false, Message: "payload text must not be empty"}
	}
	if err := ValidateSchedule(schedule); err != nil {
		return ActionResult{Success: false, Message: err.Error()}
	}

	job := domain.CronJob{
		ID:        uuid.NewString(),
		Label:     label,
		Schedule:  schedule,
		Payload:   domain.CronPayload{Text: payloadText},
		CreatedAt: time.Now().UTC(),
		Enabled:   true,
	}
	if err := a.store.Add(job); err != nil {
		return ActionResult{Success: false, Message: err.Error()}
	}
	a.timer.Rearm()
	return ActionResult{Success: true, Message: "job added", JobID: job.ID}
}

func (a *Actions) Update(id string, schedule *domain.Schedule, payloadText *string, enabled *bool) ActionResult {
	if schedule != nil {
		if err := ValidateSchedule(*schedule); err != nil {
			return ActionResult{Success: false, Message: err.Error()}
		}
	}
	if payloadText != nil && strings.TrimSpace(*payloadText) == "" {
		return ActionResult{Success: false, Message: "payload text must not be empty"}
	}

	found, err := a.store.Update(id, func(j *domain.CronJob) {
		if schedule != nil {
			j.Schedule = *schedule
		}
		if payloadText != nil {
			j.Payload.Text = *payloadText
		}
		if enabled != nil {
			j.Enabled = *enabled
		}
	})
	if err != nil {
		return ActionResult{Success: false, Message: err.Error()}
	}
	if !found {
		return ActionResult{Success: false, Message: "no such job"}
	}
	a.timer.Rearm()
	return ActionResult{Success: true, Message: "job updated", JobID: id}
}

func (a *Actions) Remove(id string) ActionResult {
	found, err := a.store.Remove(id)
	if err != nil {
		return ActionResult{Success: false, Message: err.Error()}
	}
	if !found {
		return ActionResult{Success: false, Message: "no such job"}
	}
	a.timer.Rearm()
	return ActionResult{Success: true, Message: "job removed", JobID: id}
}
