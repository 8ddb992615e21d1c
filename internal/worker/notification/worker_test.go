package notificationworker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-consent-intake/internal/events"
	"github.com/wolfman30/medspa-consent-intake/internal/observability/metrics"
	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

type fakeNotifier struct {
	mu    sync.Mutex
	ids   []string
	state submissions.NotificationState
	done  chan string
}

func (f *fakeNotifier) Notify(ctx context.Context, sub *submissions.Submission) submissions.NotificationState {
	f.mu.Lock()
	f.ids = append(f.ids, sub.ID)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- sub.ID
	}
	if f.state == "" {
		return submissions.NotificationSent
	}
	return f.state
}

func (f *fakeNotifier) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type recordingQueue struct {
	*events.MemoryQueue
	mu      sync.Mutex
	deleted []string
}

func (q *recordingQueue) Delete(ctx context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, handle)
	return nil
}

type brokenReader struct{}

func (brokenReader) GetByID(context.Context, string) (*submissions.Submission, error) {
	return nil, &submissions.StoreError{Kind: submissions.ConnectionFailed, Op: "get", Err: errors.New("refused")}
}

func (brokenReader) ListPending(context.Context, time.Time, int) ([]*submissions.Submission, error) {
	return nil, errors.New("refused")
}

func insertConsenting(t *testing.T, repo *submissions.InMemoryRepository) *submissions.Submission {
	t.Helper()
	sub, err := repo.Insert(context.Background(), submissions.Accepted{
		Name: "Ana", Phone: "+14155552671", Product: "Botox", Consent: true,
	})
	require.NoError(t, err)
	return sub
}

func TestConsumerProcessesQueuedJobs(t *testing.T) {
	repo := submissions.NewInMemoryRepository()
	sub := insertConsenting(t, repo)

	queue := events.NewMemoryQueue(4)
	require.NoError(t, events.NewPublisher(queue, logging.Discard()).PublishNotificationRequested(context.Background(), sub.ID))

	notifier := &fakeNotifier{done: make(chan string, 1)}
	consumer := NewConsumer(queue, repo, notifier, logging.Discard()).WithWorkers(1).WithReceiveWait(0)

	ctx, cancel := context.WithCancel(context.Background())
	consumer.Start(ctx)

	select {
	case id := <-notifier.done:
		assert.Equal(t, sub.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	cancel()
	consumer.Wait()
	assert.Zero(t, queue.Len())
}

func TestConsumerDeletesMalformedAndUnknownJobs(t *testing.T) {
	queue := &recordingQueue{MemoryQueue: events.NewMemoryQueue(1)}
	notifier := &fakeNotifier{}
	consumer := NewConsumer(queue, submissions.NewInMemoryRepository(), notifier, logging.Discard())

	consumer.handleMessage(context.Background(), events.QueueMessage{ID: "1", Body: "garbage", ReceiptHandle: "r1"})
	consumer.handleMessage(context.Background(), events.QueueMessage{
		ID:            "2",
		Body:          `{"type":"notification_requested.v1","submission_id":"missing"}`,
		ReceiptHandle: "r2",
	})

	assert.Equal(t, []string{"r1", "r2"}, queue.deleted)
	assert.Empty(t, notifier.calls())
}

func TestConsumerKeepsJobWhenStoreUnavailable(t *testing.T) {
	queue := &recordingQueue{MemoryQueue: events.NewMemoryQueue(1)}
	notifier := &fakeNotifier{}
	consumer := NewConsumer(queue, brokenReader{}, notifier, logging.Discard())

	consumer.handleMessage(context.Background(), events.QueueMessage{
		ID:            "1",
		Body:          `{"type":"notification_requested.v1","submission_id":"abc"}`,
		ReceiptHandle: "r1",
	})
	assert.Empty(t, queue.deleted)
	assert.Empty(t, notifier.calls())
}

func TestConsumerKeepsJobInterruptedByShutdown(t *testing.T) {
	repo := submissions.NewInMemoryRepository()
	sub := insertConsenting(t, repo)
	queue := &recordingQueue{MemoryQueue: events.NewMemoryQueue(1)}
	notifier := &fakeNotifier{state: submissions.NotificationPending}
	consumer := NewConsumer(queue, repo, notifier, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	consumer.handleMessage(ctx, events.QueueMessage{
		ID:            "1",
		Body:          `{"type":"notification_requested.v1","submission_id":"` + sub.ID + `"}`,
		ReceiptHandle: "r1",
	})
	assert.Empty(t, queue.deleted)
}

func TestNewConsumerPanicsOnMissingDeps(t *testing.T) {
	assert.Panics(t, func() { NewConsumer(nil, submissions.NewInMemoryRepository(), &fakeNotifier{}, nil) })
	assert.Panics(t, func() { NewConsumer(events.NewMemoryQueue(1), nil, &fakeNotifier{}, nil) })
	assert.Panics(t, func() { NewConsumer(events.NewMemoryQueue(1), submissions.NewInMemoryRepository(), nil, nil) })
}

func TestSweeperRedrivesStalePending(t *testing.T) {
	repo := submissions.NewInMemoryRepository()
	pending := insertConsenting(t, repo)
	_, err := repo.Insert(context.Background(), submissions.Accepted{Name: "Bo", Phone: "+14155552672", Product: "Botox", Consent: false})
	require.NoError(t, err)
	settled := insertConsenting(t, repo)
	require.NoError(t, repo.UpdateNotificationState(context.Background(), settled.ID, submissions.NotificationSent))

	reg := prometheus.NewRegistry()
	notifier := &fakeNotifier{}
	sweeper := NewSweeper(repo, notifier, logging.Discard()).
		WithStaleAfter(time.Minute).
		WithMetrics(metrics.NewIntakeMetrics(reg))
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	assert.Equal(t, 1, sweeper.Sweep(context.Background()))
	assert.Equal(t, []string{pending.ID}, notifier.calls())
}

func TestSweeperIgnoresFreshPending(t *testing.T) {
	repo := submissions.NewInMemoryRepository()
	insertConsenting(t, repo)

	notifier := &fakeNotifier{}
	sweeper := NewSweeper(repo, notifier, logging.Discard()).WithStaleAfter(time.Hour)

	assert.Zero(t, sweeper.Sweep(context.Background()))
	assert.Empty(t, notifier.calls())
}

func TestSweeperBatchSizeAndUnsettled(t *testing.T) {
	repo := submissions.NewInMemoryRepository()
	for i := 0; i < 3; i++ {
		insertConsenting(t, repo)
	}
	notifier := &fakeNotifier{state: submissions.NotificationPending}
	sweeper := NewSweeper(repo, notifier, logging.Discard()).WithBatchSize(2)
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	assert.Zero(t, sweeper.Sweep(context.Background()), "claims held elsewhere do not count as settled")
	assert.Len(t, notifier.calls(), 2)
}

func TestSweeperFetchError(t *testing.T) {
	notifier := &fakeNotifier{}
	sweeper := NewSweeper(brokenReader{}, notifier, logging.Discard())
	assert.Zero(t, sweeper.Sweep(context.Background()))
	assert.Empty(t, notifier.calls())
}
