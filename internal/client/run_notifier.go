package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	natsclient "github.com/pesio-ai/be-cm-works/internal/nats"
	"github.com/pesio-ai/be-cm-works/internal/repository"
)

// RunNotifier publishes generation-run events to NATS for consumption by the
// notifications service.
//
// Subject convention: notifications.cm.<event_type>
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt a
// generation run.
type RunNotifier struct {
	nats *natsclient.Client
	log  zerolog.Logger
}

// RunCompletedEvent is the JSON schema published to NATS.
type RunCompletedEvent struct {
	EventType    string `json:"event_type"`
	TargetYear   int    `json:"target_year"`
	TargetMonth  int    `json:"target_month"`
	Created      int    `json:"created"`
	Existed      int    `json:"existed"`
	StepsCreated int    `json:"steps_created"`
	TriggeredBy  string `json:"triggered_by"`
	RanAt        string `json:"ran_at"`
}

// NewRunNotifier creates a notifier backed by the given NATS client, which
// may be nil when event publishing is disabled.
func NewRunNotifier(nats *natsclient.Client, log zerolog.Logger) *RunNotifier {
	return &RunNotifier{nats: nats, log: log}
}

// PublishRunCompleted publishes a work_generation_completed event.
func (p *RunNotifier) PublishRunCompleted(ctx context.Context, run *repository.GenerationRun) {
	if p.nats == nil {
		return
	}

	event := &RunCompletedEvent{
		EventType:    "work_generation_completed",
		TargetYear:   run.TargetYear,
		TargetMonth:  run.TargetMonth,
		Created:      run.Created,
		Existed:      run.Existed,
		StepsCreated: run.StepsCreated,
		TriggeredBy:  run.TriggeredBy,
		RanAt:        run.RanAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.cm.%s", event.EventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Int("target_year", run.TargetYear).
			Int("target_month", run.TargetMonth).
			Msg("notification: failed to publish event")
	}
}
