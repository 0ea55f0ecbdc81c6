package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"rvcworker/internal/history"
	"rvcworker/internal/job"
	"rvcworker/internal/logging"
	"rvcworker/internal/testsupport"
	"rvcworker/internal/workflow"
)

type fakeAck struct {
	mu       sync.Mutex
	acks     []uint64
	nacks    []uint64
	requeues []bool
}

func (a *fakeAck) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	a.requeues = append(a.requeues, requeue)
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type dispatchFunc func(ctx context.Context, j job.Job) (workflow.Outcome, error)

func (f dispatchFunc) Dispatch(ctx context.Context, j job.Job) (workflow.Outcome, error) {
	return f(ctx, j)
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	keys     []string
	messages []amqp.Publishing
	onSend   func()
}

func (p *fakePublisher) PublishWithContext(_ context.Context, _ string, key string, _, _ bool, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onSend != nil {
		p.onSend()
	}
	p.keys = append(p.keys, key)
	p.messages = append(p.messages, msg)
	return p.err
}

const trainingBody = `{"command":"training","model_name":"m1","source_aws_url":"https://b/src.zip","total_epoch":100}`

func newTestConsumer(t *testing.T, d Dispatcher) *Consumer {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return New(cfg, d, logging.NewNop())
}

func delivery(ack amqp.Acknowledger, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(body)}
}

func TestHandleAcksDispatchedJobEvenWhenItFailed(t *testing.T) {
	var got job.Job
	c := newTestConsumer(t, dispatchFunc(func(_ context.Context, j job.Job) (workflow.Outcome, error) {
		got = j
		return workflow.Outcome{Status: history.StatusFailed, Err: errors.New("prepare exited 1")}, nil
	}))
	ack := &fakeAck{}

	if s := c.Handle(context.Background(), nil, delivery(ack, trainingBody)); s != SettleAck {
		t.Fatalf("expected ack, got %s", s)
	}
	if len(ack.acks) != 1 || len(ack.nacks) != 0 {
		t.Fatalf("expected a single ack, got acks=%v nacks=%v", ack.acks, ack.nacks)
	}
	if got.Kind != job.KindTraining || got.Training.TotalEpochs != 100 {
		t.Fatalf("unexpected dispatched job: %+v", got)
	}
}

func TestHandleDropsUndecodableMessages(t *testing.T) {
	bodies := map[string]string{
		"not json":        `{"command":`,
		"missing command": `{"model_name":"m1"}`,
		"unknown command": `{"command":"resample","model_name":"m1"}`,
		"missing field":   `{"command":"training","model_name":"m1","total_epoch":10}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestConsumer(t, dispatchFunc(func(context.Context, job.Job) (workflow.Outcome, error) {
				calls.Add(1)
				return workflow.Outcome{}, nil
			}))
			ack := &fakeAck{}
			if s := c.Handle(context.Background(), nil, delivery(ack, body)); s != SettleDrop {
				t.Fatalf("expected drop, got %s", s)
			}
			if len(ack.acks) != 1 || len(ack.nacks) != 0 {
				t.Fatalf("expected message acknowledged, got acks=%v nacks=%v", ack.acks, ack.nacks)
			}
			if calls.Load() != 0 {
				t.Fatal("dispatcher must not run for undecodable messages")
			}
		})
	}
}

func TestHandleRequeuesDispatchError(t *testing.T) {
	c := newTestConsumer(t, dispatchFunc(func(context.Context, job.Job) (workflow.Outcome, error) {
		return workflow.Outcome{}, context.Canceled
	}))
	ack := &fakeAck{}

	if s := c.Handle(context.Background(), nil, delivery(ack, trainingBody)); s != SettleRequeue {
		t.Fatalf("expected requeue, got %s", s)
	}
	if len(ack.nacks) != 1 || !ack.requeues[0] || len(ack.acks) != 0 {
		t.Fatalf("expected nack with requeue, got acks=%v nacks=%v requeue=%v", ack.acks, ack.nacks, ack.requeues)
	}
}

func TestHandleRequeuesPanics(t *testing.T) {
	c := newTestConsumer(t, dispatchFunc(func(context.Context, job.Job) (workflow.Outcome, error) {
		panic("boom")
	}))
	ack := &fakeAck{}

	if s := c.Handle(context.Background(), nil, delivery(ack, trainingBody)); s != SettleRequeue {
		t.Fatalf("expected requeue after panic, got %s", s)
	}
	if len(ack.nacks) != 1 || !ack.requeues[0] {
		t.Fatalf("expected nack with requeue, got nacks=%v requeue=%v", ack.nacks, ack.requeues)
	}
}

func TestHandleDropsUnknownCommandFromDispatcher(t *testing.T) {
	c := newTestConsumer(t, dispatchFunc(func(context.Context, job.Job) (workflow.Outcome, error) {
		return workflow.Outcome{}, job.ErrUnknownCommand
	}))
	ack := &fakeAck{}
	if s := c.Handle(context.Background(), nil, delivery(ack, trainingBody)); s != SettleDrop {
		t.Fatalf("expected drop, got %s", s)
	}
}

func TestHandleRepliesBeforeDispatch(t *testing.T) {
	var order []string
	pub := &fakePublisher{onSend: func() { order = append(order, "reply") }}
	var gotCorrelation string
	c := newTestConsumer(t, dispatchFunc(func(_ context.Context, j job.Job) (workflow.Outcome, error) {
		order = append(order, "dispatch")
		gotCorrelation = j.CorrelationID
		return workflow.Outcome{Status: history.StatusCompleted}, nil
	}))
	d := delivery(&fakeAck{}, trainingBody)
	d.ReplyTo = "amq.rabbitmq.reply-to"
	d.CorrelationId = "corr-9"

	if s := c.Handle(context.Background(), pub, d); s != SettleAck {
		t.Fatalf("expected ack, got %s", s)
	}
	if len(order) != 2 || order[0] != "reply" || order[1] != "dispatch" {
		t.Fatalf("expected reply before dispatch, got %v", order)
	}
	if gotCorrelation != "corr-9" {
		t.Fatalf("expected delivery correlation id on job, got %q", gotCorrelation)
	}
	if pub.keys[0] != "amq.rabbitmq.reply-to" || pub.messages[0].CorrelationId != "corr-9" {
		t.Fatalf("unexpected reply routing: key=%q msg=%+v", pub.keys[0], pub.messages[0])
	}
	var reply Acceptance
	if err := json.Unmarshal(pub.messages[0].Body, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Status != "accepted" || reply.Command != "training" || reply.CorrelationID != "corr-9" {
		t.Fatalf("unexpected reply body: %+v", reply)
	}
}

func TestHandleReplyFailureDoesNotBlockDispatch(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no route")}
	var dispatched atomic.Bool
	c := newTestConsumer(t, dispatchFunc(func(context.Context, job.Job) (workflow.Outcome, error) {
		dispatched.Store(true)
		return workflow.Outcome{Status: history.StatusCompleted}, nil
	}))
	d := delivery(&fakeAck{}, trainingBody)
	d.ReplyTo = "replies"

	if s := c.Handle(context.Background(), pub, d); s != SettleAck || !dispatched.Load() {
		t.Fatalf("expected dispatch and ack despite reply failure, got %s dispatched=%v", s, dispatched.Load())
	}
}

func TestStatsCountSettlements(t *testing.T) {
	c := newTestConsumer(t, dispatchFunc(func(context.Context, job.Job) (workflow.Outcome, error) {
		return workflow.Outcome{Status: history.StatusCompleted}, nil
	}))
	c.Handle(context.Background(), nil, delivery(&fakeAck{}, trainingBody))
	c.Handle(context.Background(), nil, delivery(&fakeAck{}, `garbage`))

	stats := c.Stats()
	if stats.Acked != 1 || stats.Dropped != 1 || stats.Requeued != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Queue != "rvc-test" || stats.Connected {
		t.Fatalf("unexpected connection state: %+v", stats)
	}
}

func TestRunRetriesDialUntilCancelled(t *testing.T) {
	c := newTestConsumer(t, dispatchFunc(func(context.Context, job.Job) (workflow.Outcome, error) {
		return workflow.Outcome{}, nil
	}))
	c.reconnect = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var attempts atomic.Int32
	c.dial = func(string, string) (*amqp.Connection, error) {
		if attempts.Add(1) >= 3 {
			cancel()
		}
		return nil, errors.New("connection refused")
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if attempts.Load() < 3 {
		t.Fatalf("expected repeated dial attempts, got %d", attempts.Load())
	}
}

func TestPublishJobSendsPersistentJSON(t *testing.T) {
	pub := &fakePublisher{}
	body := []byte(trainingBody)
	if err := publishJob(context.Background(), pub, "training", "corr-1", body); err != nil {
		t.Fatalf("publishJob: %v", err)
	}
	msg := pub.messages[0]
	if pub.keys[0] != "training" || msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing: key=%q msg=%+v", pub.keys[0], msg)
	}
	if msg.CorrelationId != "corr-1" || string(msg.Body) != trainingBody {
		t.Fatalf("unexpected payload: %+v", msg)
	}
}
