package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/paperharvest/paperharvest/internal/progress"
)

// outcomeMessage is the JSON payload published for each terminal source
// event. Downstream consumers (notification jobs, dashboards) key on run_id
// and source.
type outcomeMessage struct {
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	Stage     string    `json:"stage"`
	TS        time.Time `json:"ts"`
	New       int64     `json:"new"`
	Duplicate int64     `json:"duplicate"`
	Filtered  int64     `json:"filtered"`
	Errors    int64     `json:"errors"`
	Note      string    `json:"note,omitempty"`
}

// PubSubSink publishes terminal source outcomes (SOURCE_DONE, SOURCE_ERROR)
// to a Pub/Sub topic. Non-terminal events are ignored; the topic is for
// completion notifications, not a progress firehose.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink wraps an existing topic handle. The caller owns the client
// lifecycle; Close only stops the topic's publish goroutines.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

// Consume implements progress.Sink.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	var results []*pubsub.PublishResult
	for _, evt := range batch {
		if evt.Stage != progress.StageSourceDone && evt.Stage != progress.StageSourceError {
			continue
		}
		payload, err := json.Marshal(outcomeMessage{
			RunID:     evt.RunUUID().String(),
			Source:    evt.Source,
			Stage:     string(evt.Stage),
			TS:        evt.TS,
			New:       evt.New,
			Duplicate: evt.Duplicate,
			Filtered:  evt.Filtered,
			Errors:    evt.Errors,
			Note:      evt.Note,
		})
		if err != nil {
			return fmt.Errorf("marshal outcome for %s: %w", evt.Source, err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data: payload,
			Attributes: map[string]string{
				"run_id": evt.RunUUID().String(),
				"source": evt.Source,
				"stage":  string(evt.Stage),
			},
		}))
	}
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("publish outcome: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	return nil
}
