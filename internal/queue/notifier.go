// Package queue announces run progress on SQS for downstream consumers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"forestagree/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventType distinguishes the messages of a run.
type EventType string

const (
	EventUnitFinished EventType = "unit_finished"
	EventRunFinished  EventType = "run_finished"
)

// RunEvent is the message body published for every event.
type RunEvent struct {
	EventID   string            `json:"event_id"`
	Type      EventType         `json:"type"`
	RunID     string            `json:"run_id"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      *types.UnitResult `json:"unit,omitempty"`
	// Run-level fields, set on EventRunFinished.
	Status  string            `json:"status,omitempty"`
	Code    types.ErrorCode   `json:"code,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// RunSummary is the outcome of a finished run.
type RunSummary struct {
	Err     error
	Outputs map[string]string
}

// Notifier publishes run events.
type Notifier interface {
	NotifyUnit(ctx context.Context, u types.UnitResult) error
	NotifyRun(ctx context.Context, s RunSummary) error
}

// SQSNotifier sends every event to one queue. The run ID is read from the
// context.
type SQSNotifier struct {
	client   SQSSender
	queueURL string
	now      func() time.Time
	logger   *slog.Logger
}

// NewSQSNotifier creates an SQSNotifier.
func NewSQSNotifier(client SQSSender, queueURL string, logger *slog.Logger) *SQSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSNotifier{
		client:   client,
		queueURL: queueURL,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// NotifyUnit announces a finished export unit.
func (n *SQSNotifier) NotifyUnit(ctx context.Context, u types.UnitResult) error {
	return n.send(ctx, RunEvent{Type: EventUnitFinished, Unit: &u})
}

// NotifyRun announces a finished run, successful or not.
func (n *SQSNotifier) NotifyRun(ctx context.Context, s RunSummary) error {
	ev := RunEvent{Type: EventRunFinished, Status: "succeeded", Outputs: s.Outputs}
	if s.Err != nil {
		ev.Status = "failed"
		ev.Code = types.CodeOf(s.Err)
	}
	return n.send(ctx, ev)
}

func (n *SQSNotifier) send(ctx context.Context, ev RunEvent) error {
	ev.EventID = uuid.New().String()
	ev.RunID = types.GetRunID(ctx)
	ev.Timestamp = n.now()

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal RunEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Type)),
			},
		},
	}

	if _, err := n.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send %s event to %s", ev.Type, n.queueURL), err)
	}

	n.logger.DebugContext(ctx, "run event sent",
		"queue_url", n.queueURL,
		"event_id", ev.EventID,
		"event_type", string(ev.Type),
		"run_id", ev.RunID,
	)
	return nil
}

// NoopNotifier drops every event. Used when no queue is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyUnit(context.Context, types.UnitResult) error { return nil }
func (NoopNotifier) NotifyRun(context.Context, RunSummary) error { return nil }
