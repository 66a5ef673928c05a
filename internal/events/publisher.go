// Package events publishes task lifecycle and progress events to NATS
// JetStream. The publisher is optional: a nil *Publisher is a no-op sink.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceforge/internal/task"
)

const (
	StreamName  = "TASKS"
	SubjectBase = "tasks"
)

// LifecycleEvent marks a task state transition.
type LifecycleEvent struct {
	TaskID    string    `json:"task_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressEvent mirrors the runner's progress callback.
type ProgressEvent struct {
	TaskID     string    `json:"task_id"`
	TargetPath string    `json:"target_path"`
	Processed  int64     `json:"processed"`
	Total      int64     `json:"total"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher pushes events to JetStream.
type Publisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

var _ task.EventSink = (*Publisher)(nil)

// NewPublisher connects to NATS with unlimited reconnects.
func NewPublisher(natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// EnsureStream creates the TASKS stream if it does not exist.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Description: "Task lifecycle and progress events",
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	slog.Info("ensured NATS stream", "name", StreamName)
	return nil
}

// PublishLifecycle implements task.EventSink.
func (p *Publisher) PublishLifecycle(ctx context.Context, taskID, state string) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s.lifecycle", SubjectBase, taskID), LifecycleEvent{
		TaskID:    taskID,
		State:     state,
		Timestamp: time.Now().UTC(),
	})
}

// PublishProgress implements task.EventSink.
func (p *Publisher) PublishProgress(ctx context.Context, prog task.Progress) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s.progress", SubjectBase, prog.TaskID), ProgressEvent{
		TaskID:     prog.TaskID,
		TargetPath: prog.TargetPath,
		Processed:  prog.Processed,
		Total:      prog.Total,
		Timestamp:  time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (p *Publisher) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

// Close drops the connection.
func (p *Publisher) Close() { p.nc.Close() }
