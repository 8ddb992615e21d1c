package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-consent-intake/internal/channels/whatsapp"
	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "transport", err: errors.New("dial tcp: connection refused"), want: TransientNetworkError},
		{name: "timeout", err: context.DeadlineExceeded, want: TransientNetworkError},
		{name: "rate limited", err: &whatsapp.APIError{StatusCode: 429}, want: TransientNetworkError},
		{name: "server error", err: &whatsapp.APIError{StatusCode: 503}, want: TransientNetworkError},
		{name: "throughput code", err: &whatsapp.APIError{StatusCode: 400, Code: 130429}, want: TransientNetworkError},
		{name: "expired token", err: &whatsapp.APIError{StatusCode: 400, Code: 190}, want: AuthError},
		{name: "permission code", err: &whatsapp.APIError{StatusCode: 400, Code: 200}, want: AuthError},
		{name: "unauthorized", err: &whatsapp.APIError{StatusCode: 401}, want: AuthError},
		{name: "forbidden", err: &whatsapp.APIError{StatusCode: 403}, want: AuthError},
		{name: "invalid recipient", err: &whatsapp.APIError{StatusCode: 400, Code: 131026}, want: RejectedByProvider},
		{name: "bad request", err: &whatsapp.APIError{StatusCode: 400, Code: 100}, want: RejectedByProvider},
		{name: "wrapped", err: fmt.Errorf("send: %w", &whatsapp.APIError{StatusCode: 401}), want: AuthError},
		{name: "already classified", err: &DispatchError{Kind: RejectedByProvider}, want: RejectedByProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second}
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 2*time.Second, p.Delay(10))
	assert.Equal(t, time.Duration(0), p.Delay(0))
}

func TestRetryPolicyRetriesTransientOnly(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return &DispatchError{Kind: TransientNetworkError}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return &DispatchError{Kind: AuthError}
	})
	assert.Equal(t, AuthError, Classify(err))
	assert.Equal(t, 1, calls)

	calls = 0
	err = p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return &DispatchError{Kind: TransientNetworkError}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyStopsWhenContextDone(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(ctx context.Context, attempt int) error {
			calls++
			return &DispatchError{Kind: TransientNetworkError}
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop after cancellation")
	}
}

func TestRetryPolicyCanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := DefaultRetryPolicy().Do(ctx, func(ctx context.Context, attempt int) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}

func TestRedisClaimer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	claimer := NewRedisClaimer(client, logging.Discard())
	ctx := context.Background()
	key := ClaimKey("sub-1")

	assert.True(t, claimer.Claim(ctx, key, time.Minute))
	assert.False(t, claimer.Claim(ctx, key, time.Minute))

	claimer.Release(ctx, key)
	assert.True(t, claimer.Claim(ctx, key, time.Minute))

	mr.FastForward(2 * time.Minute)
	assert.True(t, claimer.Claim(ctx, key, time.Minute))
}

func TestRedisClaimerFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	claimer := NewRedisClaimer(client, logging.Discard())
	mr.Close()

	assert.True(t, claimer.Claim(context.Background(), ClaimKey("sub-1"), time.Minute))
}

func TestNewRedisClaimerWithoutClient(t *testing.T) {
	claimer := NewRedisClaimer(nil, nil)
	_, ok := claimer.(NopClaimer)
	assert.True(t, ok)
}

func TestMessageRenderer(t *testing.T) {
	r, err := NewMessageRenderer("")
	require.NoError(t, err)
	body, err := r.Render(&submissions.Submission{Name: "Ada", Product: "Botox"})
	require.NoError(t, err)
	assert.Equal(t, "Thank you, Ada, for choosing Botox!", body)

	r, err = NewMessageRenderer("Hi {{.Nickname}}")
	require.NoError(t, err)
	_, err = r.Render(&submissions.Submission{Name: "Ada"})
	require.Error(t, err)

	_, err = NewMessageRenderer("{{.Name")
	require.Error(t, err)
}

type fakeSender struct {
	to, body string
	err      error
	calls    int
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) (*whatsapp.SendResponse, error) {
	f.calls++
	f.to, f.body = to, body
	if f.err != nil {
		return nil, f.err
	}
	return &whatsapp.SendResponse{Messages: []whatsapp.Message{{ID: "wamid.1"}}}, nil
}

func TestDispatcherNotify(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, logging.Discard())

	err := d.Notify(context.Background(), &submissions.Submission{ID: "s1", Name: "Ada", Phone: "+14155552671", Product: "Botox"})
	require.NoError(t, err)
	assert.Equal(t, "+14155552671", sender.to)
	assert.Equal(t, "Thank you, Ada, for choosing Botox!", sender.body)
}

func TestDispatcherNotifyClassifiesFailure(t *testing.T) {
	sender := &fakeSender{err: &whatsapp.APIError{StatusCode: 401, Code: 190}}
	d := NewDispatcher(sender, nil, logging.Discard())

	err := d.Notify(context.Background(), &submissions.Submission{ID: "s1", Name: "Ada", Phone: "+14155552671", Product: "Botox"})
	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, AuthError, dispatchErr.Kind)
	assert.False(t, dispatchErr.Retryable())
}

func TestDispatcherNotifyRequiresPhone(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, logging.Discard())
	err := d.Notify(context.Background(), &submissions.Submission{ID: "s1"})
	assert.Equal(t, RejectedByProvider, Classify(err))
	assert.Zero(t, sender.calls)
}

func TestDispatcherAttemptTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := whatsapp.NewClient("token", "123")
	client.SetGraphAPIBase(server.URL)
	d := NewDispatcher(client, nil, logging.Discard()).WithTimeout(20 * time.Millisecond)

	err := d.Notify(context.Background(), &submissions.Submission{ID: "s1", Name: "Ada", Phone: "+14155552671", Product: "Botox"})
	assert.Equal(t, TransientNetworkError, Classify(err))
}

func TestDispatcherAcceptedSendIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := whatsapp.NewClient("token", "123")
	client.SetGraphAPIBase(server.URL)
	d := NewDispatcher(client, nil, logging.Discard())
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	sub := &submissions.Submission{ID: "s1", Name: "Ada", Phone: "+14155552671", Product: "Botox"}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return d.Notify(ctx, sub)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
