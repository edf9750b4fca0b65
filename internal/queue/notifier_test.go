package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"forestagree/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/run-events"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestNotifier(mock *mockSQSSender) *SQSNotifier {
	n := NewSQSNotifier(mock, testQueueURL, nil)
	n.now = func() time.Time { return fixedNow }
	return n
}

func decodeEvent(t *testing.T, in *sqs.SendMessageInput) RunEvent {
	t.Helper()
	var ev RunEvent
	if err := json.Unmarshal([]byte(*in.MessageBody), &ev); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}
	return ev
}

func TestNotifyUnit(t *testing.T) {
	mock := &mockSQSSender{}
	n := newTestNotifier(mock)
	ctx := types.WithRunID(context.Background(), "run_42")

	u := types.UnitResult{ID: "cluster-0", Kind: types.UnitCluster, Status: types.UnitOK, Location: "s3://b/cluster-0.tif", CRS: "EPSG:32632"}
	if err := n.NotifyUnit(ctx, u); err != nil {
		t.Fatalf("NotifyUnit returned unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}
	call := mock.calls[0]
	if *call.QueueUrl != testQueueURL {
		t.Errorf("expected queue URL %q, got %q", testQueueURL, *call.QueueUrl)
	}
	if got := *call.MessageAttributes["event_type"].StringValue; got != string(EventUnitFinished) {
		t.Errorf("expected event_type attribute %q, got %q", EventUnitFinished, got)
	}

	ev := decodeEvent(t, call)
	if ev.Type != EventUnitFinished {
		t.Errorf("expected type %q, got %q", EventUnitFinished, ev.Type)
	}
	if ev.RunID != "run_42" {
		t.Errorf("expected run ID run_42, got %q", ev.RunID)
	}
	if ev.EventID == "" {
		t.Error("expected a generated event ID")
	}
	if !ev.Timestamp.Equal(fixedNow) {
		t.Errorf("expected timestamp %v, got %v", fixedNow, ev.Timestamp)
	}
	if ev.Unit == nil || *ev.Unit != u {
		t.Errorf("expected unit %+v, got %+v", u, ev.Unit)
	}
}

func TestNotifyRun(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		mock := &mockSQSSender{}
		n := newTestNotifier(mock)

		outputs := map[string]string{"dataset_extent": "/out/dataset_extent.csv"}
		if err := n.NotifyRun(context.Background(), RunSummary{Outputs: outputs}); err != nil {
			t.Fatalf("NotifyRun returned unexpected error: %v", err)
		}

		ev := decodeEvent(t, mock.calls[0])
		if ev.Type != EventRunFinished || ev.Status != "succeeded" {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.Code != "" {
			t.Errorf("expected no code, got %q", ev.Code)
		}
		if ev.Outputs["dataset_extent"] != "/out/dataset_extent.csv" {
			t.Errorf("unexpected outputs %v", ev.Outputs)
		}
	})

	t.Run("failed", func(t *testing.T) {
		mock := &mockSQSSender{}
		n := newTestNotifier(mock)

		runErr := types.NewAppError(types.ErrCodeNotFoundDataset, "unknown dataset", nil)
		if err := n.NotifyRun(context.Background(), RunSummary{Err: runErr}); err != nil {
			t.Fatalf("NotifyRun returned unexpected error: %v", err)
		}

		ev := decodeEvent(t, mock.calls[0])
		if ev.Status != "failed" {
			t.Errorf("expected status failed, got %q", ev.Status)
		}
		if ev.Code != types.ErrCodeNotFoundDataset {
			t.Errorf("expected code %q, got %q", types.ErrCodeNotFoundDataset, ev.Code)
		}
	})
}

func TestNotify_SQSError(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("AccessDenied")}
	n := newTestNotifier(mock)

	err := n.NotifyUnit(context.Background(), types.UnitResult{ID: "tile-r0-c0"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := types.CodeOf(err); code != types.ErrCodeUpstreamQueue {
		t.Errorf("expected code %q, got %q", types.ErrCodeUpstreamQueue, code)
	}
	if !types.IsRetryable(err) {
		t.Error("queue failures should be retryable")
	}
}

func TestNoopNotifier(t *testing.T) {
	var n Notifier = NoopNotifier{}
	if err := n.NotifyUnit(context.Background(), types.UnitResult{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := n.NotifyRun(context.Background(), RunSummary{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
