// Package logbus fans out job/step log chunks and status updates to
// subscribers (the web UI, the CLI's `logs --follow`) over Redis pub/sub,
// with a bounded historical backlog read from storage before live frames.
package logbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/store"
)

var log = logrus.WithField("component", "logbus")

const backlogLimit = 1000

// Frame is one message delivered to a subscriber. Type is one of "log",
// "status_update", or the "history_complete" marker that separates backlog
// replay from live delivery.
type Frame struct {
	Type      string      `json:"type"`
	JobID     string      `json:"job_id,omitempty"`
	StepID    string      `json:"step_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Level     string      `json:"level,omitempty"`
	Status    string      `json:"status,omitempty"`
	EntityID  string      `json:"entity_id,omitempty"`
	Outputs   interface{} `json:"outputs,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// Bus is the Redis-backed fan-out layer for job and execution log topics.
type Bus struct {
	rdb   *redis.Client
	store *store.Store
}

// New constructs a Bus over an already-connected Redis client.
func New(rdb *redis.Client, st *store.Store) *Bus {
	return &Bus{rdb: rdb, store: st}
}

func jobTopic(jobID string) string       { return "logs_job_" + jobID }
func executionTopic(execID string) string { return "logs_execution_" + execID }

// PublishLog appends chunk to storage (with the chunk_number the caller
// assigned) and publishes it to the execution topic, plus the job topic
// when jobID is known, so a job-scoped subscriber (SubscribeJob) sees live
// log frames and not just status updates.
func (b *Bus) PublishLog(ctx context.Context, executionID, jobID string, chunk model.LogChunk) error {
	if err := b.store.AppendLogChunk(ctx, chunk); err != nil {
		return fmt.Errorf("append log chunk: %w", err)
	}
	frame := Frame{
		Type:      "log",
		StepID:    chunk.StepID,
		Content:   chunk.Content,
		Level:     string(chunk.Level),
		Timestamp: chunk.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if jobID != "" {
		b.publish(ctx, jobTopic(jobID), frame)
	}
	b.publish(ctx, executionTopic(executionID), frame)
	return nil
}

// PublishStatus fans a status_update frame for a job or step to both topics.
func (b *Bus) PublishStatus(ctx context.Context, executionID, jobID, entityID string, status model.Status, outputs interface{}) {
	frame := Frame{
		Type:     "status_update",
		JobID:    jobID,
		EntityID: entityID,
		Status:   string(status),
		Outputs:  outputs,
	}
	b.publish(ctx, jobTopic(jobID), frame)
	b.publish(ctx, executionTopic(executionID), frame)
}

// publish is fire-and-forget: a Redis error is logged, never returned, so a
// slow or unreachable broker never blocks the caller (a runner session
// handler, or the planner committing a status transition).
func (b *Bus) publish(ctx context.Context, topic string, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.WithError(err).Error("marshal log frame")
		return
	}
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		log.WithError(err).WithField("topic", topic).Warn("publish to log bus failed")
	}
}

// subscriberBufferSize bounds how many live frames a slow subscriber can
// fall behind by before frames start being dropped for it specifically.
const subscriberBufferSize = 256

// SubscribeJob replays up to backlogLimit historical chunks for a job (in
// (step_order, chunk_number) order), emits a history_complete marker, then
// streams live frames from the job's Redis topic until ctx is cancelled.
// The returned channel is closed when the subscription ends; a slow reader
// drops live frames rather than stalling the publisher.
func (b *Bus) SubscribeJob(ctx context.Context, jobID string) (<-chan Frame, error) {
	backlog, err := b.store.TailLogChunksByJob(ctx, jobID, backlogLimit)
	if err != nil {
		return nil, fmt.Errorf("load backlog: %w", err)
	}

	sub := b.rdb.Subscribe(ctx, jobTopic(jobID))
	out := make(chan Frame, subscriberBufferSize)

	go func() {
		defer close(out)
		defer sub.Close()

		for _, chunk := range backlog {
			select {
			case out <- Frame{Type: "log", StepID: chunk.StepID, Content: chunk.Content, Level: string(chunk.Level)}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- Frame{Type: "history_complete"}:
		case <-ctx.Done():
			return
		}

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var frame Frame
				if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
					log.WithError(err).Warn("discarding malformed log frame")
					continue
				}
				select {
				case out <- frame:
				default:
					log.WithField("job_id", jobID).Warn("subscriber too slow, dropping live frame")
				}
			}
		}
	}()

	return out, nil
}

// SubscribeExecution is SubscribeJob's execution-wide counterpart: it
// replays the backlog across every job of an execution, then streams live
// frames from the execution's topic, which every job and status update is
// also published to.
func (b *Bus) SubscribeExecution(ctx context.Context, executionID string) (<-chan Frame, error) {
	backlog, err := b.store.TailLogChunksByExecution(ctx, executionID, backlogLimit)
	if err != nil {
		return nil, fmt.Errorf("load backlog: %w", err)
	}

	sub := b.rdb.Subscribe(ctx, executionTopic(executionID))
	out := make(chan Frame, subscriberBufferSize)

	go func() {
		defer close(out)
		defer sub.Close()

		for _, chunk := range backlog {
			select {
			case out <- Frame{Type: "log", StepID: chunk.StepID, Content: chunk.Content, Level: string(chunk.Level)}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- Frame{Type: "history_complete"}:
		case <-ctx.Done():
			return
		}

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var frame Frame
				if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
					log.WithError(err).Warn("discarding malformed log frame")
					continue
				}
				select {
				case out <- frame:
				default:
					log.WithField("execution_id", executionID).Warn("subscriber too slow, dropping live frame")
				}
			}
		}
	}()

	return out, nil
}
