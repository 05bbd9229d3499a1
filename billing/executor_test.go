package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRequests struct {
	runs map[string]int
}

func (c *countingRequests) request(kind RequestKind, name string) *Request {
	return NewRequest(kind, func(_ context.Context, _ Service) {
		c.runs[name]++
	})
}

func newTestExecutor(t *testing.T) (*Executor, *fakeService, *manualScheduler, *recordingListener) {
	svc := newFakeService()
	sched := &manualScheduler{}
	listener := &recordingListener{}

	e := NewExecutor(zap.Must(zap.NewDevelopment()), svc, listener, DefaultRetryPolicy(), sched, NewMetrics(nil))
	t.Cleanup(e.Close)

	return e, svc, sched, listener
}

func TestExecutor_RunsImmediatelyWhenConnected(t *testing.T) {
	e, svc, _, listener := newTestExecutor(t)
	reqs := &countingRequests{runs: map[string]int{}}

	e.Execute(reqs.request(RequestKindQueryPurchases, "first"))
	require.Equal(t, StateConnecting, e.State())
	require.Equal(t, 1, svc.numAttempts())
	require.Zero(t, reqs.runs["first"])

	svc.finishSetup(ResponseCodeOK)
	require.Equal(t, StateConnected, e.State())
	require.Equal(t, 1, reqs.runs["first"])
	require.Equal(t, 1, listener.setupFinished)

	code, ok := e.SetupResponseCode()
	require.True(t, ok)
	require.Equal(t, ResponseCodeOK, code)

	e.Execute(reqs.request(RequestKindConsume, "second"))
	require.Equal(t, 1, reqs.runs["second"])
	require.Equal(t, 1, svc.numAttempts())
}

func TestExecutor_SingleAttemptInFlight(t *testing.T) {
	e, svc, _, _ := newTestExecutor(t)
	reqs := &countingRequests{runs: map[string]int{}}

	_, ok := e.SetupResponseCode()
	require.False(t, ok)

	e.Execute(reqs.request(RequestKindQueryPurchases, "a"))
	e.Execute(reqs.request(RequestKindAcknowledge, "b"))
	e.Execute(reqs.request(RequestKindConsume, "c"))
	require.Equal(t, 1, svc.numAttempts())
	require.Empty(t, reqs.runs)

	svc.finishSetup(ResponseCodeOK)
	require.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, reqs.runs)
}

func TestExecutor_OneRetryPerDisconnect(t *testing.T) {
	e, svc, sched, _ := newTestExecutor(t)
	reqs := &countingRequests{runs: map[string]int{}}

	e.Execute(reqs.request(RequestKindQueryPurchases, "query"))
	svc.finishSetup(ResponseCodeOK)
	require.Equal(t, 1, reqs.runs["query"])

	for i := 1; i <= 3; i++ {
		svc.disconnect()
		require.Equal(t, StateDisconnected, e.State())
		require.Equal(t, i, sched.scheduled(), "exactly one reconnection per disconnect")
		require.Equal(t, i, e.Retries())
		require.LessOrEqual(t, e.Retries(), DefaultMaxRetries)

		// The reconnection connects again but setup never completes before
		// the next disconnect.
		require.True(t, sched.fireNext())
		require.Equal(t, StateConnecting, e.State())
		require.Equal(t, i+1, svc.numAttempts())
	}

	// The cap is reached, a fourth disconnect schedules nothing.
	svc.disconnect()
	require.Equal(t, 3, sched.scheduled())
	require.Equal(t, 3, e.Retries())
	require.Equal(t, 1, reqs.runs["query"])
}

func TestExecutor_DisconnectReplaysOriginalRequest(t *testing.T) {
	e, svc, sched, listener := newTestExecutor(t)
	reqs := &countingRequests{runs: map[string]int{}}

	e.Execute(reqs.request(RequestKindQueryPurchases, "query"))
	svc.finishSetup(ResponseCodeOK)

	svc.disconnect()
	require.Equal(t, 1, e.Retries())

	require.True(t, sched.fireNext())
	svc.finishSetup(ResponseCodeOK)

	require.Equal(t, 2, reqs.runs["query"])
	require.Zero(t, e.Retries(), "a successful setup resets the counter")
	require.Equal(t, 2, listener.setupFinished)
}

func TestExecutor_SetupFailsRepeatedly(t *testing.T) {
	e, svc, sched, listener := newTestExecutor(t)
	reqs := &countingRequests{runs: map[string]int{}}

	e.Execute(reqs.request(RequestKindQueryPurchases, "query"))

	for i := 1; i <= 3; i++ {
		svc.finishSetup(ResponseCodeBillingUnavailable)
		require.Len(t, listener.disconnected, i)
		require.Equal(t, i, sched.scheduled())

		if i < 3 {
			require.True(t, sched.fireNext())
		}
	}

	// Three failures: three notifications with the failing code, and no
	// fourth reconnection.
	require.Equal(t, []ResponseCode{
		ResponseCodeBillingUnavailable,
		ResponseCodeBillingUnavailable,
		ResponseCodeBillingUnavailable,
	}, listener.disconnected)
	require.Equal(t, 3, e.Retries())

	// The last scheduled reconnection fails as well and the policy gives up.
	require.True(t, sched.fireNext())
	svc.finishSetup(ResponseCodeBillingUnavailable)
	require.Equal(t, 3, sched.scheduled())
	require.False(t, sched.fireNext())
	require.Equal(t, 4, svc.numAttempts())
	require.Zero(t, reqs.runs["query"])

	// A failed setup followed by a disconnect of the same attempt does not
	// count twice.
	svc.disconnect()
	require.Equal(t, 3, sched.scheduled())

	code, ok := e.SetupResponseCode()
	require.True(t, ok)
	require.Equal(t, ResponseCodeBillingUnavailable, code)
}

func TestExecutor_PurchaseFlowSetupFailure(t *testing.T) {
	e, svc, sched, listener := newTestExecutor(t)

	var launched int
	flow := NewOneShotRequest(RequestKindPurchaseFlow, func(_ context.Context, _ Service) {
		launched++
	})

	e.Execute(flow)
	svc.finishSetup(ResponseCodeServiceUnavailable)

	require.Equal(t, []ResponseCode{ResponseCodeServiceUnavailable}, listener.flowFailed)
	require.Empty(t, listener.disconnected)
	require.Zero(t, sched.scheduled())
	require.True(t, flow.IsDropped())

	// Running it through a later connection does nothing.
	e.Execute(flow)
	svc.finishSetup(ResponseCodeOK)
	require.Zero(t, launched)
}

func TestExecutor_MixedSetupFailure(t *testing.T) {
	e, svc, sched, listener := newTestExecutor(t)
	reqs := &countingRequests{runs: map[string]int{}}

	e.Execute(NewOneShotRequest(RequestKindPurchaseFlow, func(_ context.Context, _ Service) {}))
	e.Execute(reqs.request(RequestKindConsume, "consume"))
	svc.finishSetup(ResponseCodeError)

	require.Equal(t, []ResponseCode{ResponseCodeError}, listener.flowFailed)
	require.Equal(t, []ResponseCode{ResponseCodeError}, listener.disconnected)
	require.Equal(t, 1, sched.scheduled())

	require.True(t, sched.fireNext())
	svc.finishSetup(ResponseCodeOK)
	require.Equal(t, 1, reqs.runs["consume"])
}

func TestExecutor_StaleCallbacksIgnored(t *testing.T) {
	e, svc, sched, listener := newTestExecutor(t)
	reqs := &countingRequests{runs: map[string]int{}}

	e.Execute(reqs.request(RequestKindQueryPurchases, "query"))
	svc.finishSetup(ResponseCodeOK)
	svc.disconnect()
	require.True(t, sched.fireNext())
	require.Equal(t, 2, svc.numAttempts())

	// Callbacks of the first connection arrive late.
	svc.attempt(0).OnServiceDisconnected()
	svc.attempt(0).OnSetupFinished(ResponseCodeOK)
	require.Equal(t, StateConnecting, e.State())
	require.Equal(t, 1, sched.scheduled())
	require.Equal(t, 1, listener.setupFinished)
}

func TestExecutor_Close(t *testing.T) {
	e, svc, sched, _ := newTestExecutor(t)
	reqs := &countingRequests{runs: map[string]int{}}

	e.Execute(reqs.request(RequestKindQueryPurchases, "query"))
	svc.finishSetup(ResponseCodeOK)
	svc.disconnect()
	require.Equal(t, 1, sched.outstanding())

	require.True(t, sched.fireNext())
	svc.finishSetup(ResponseCodeOK)
	require.True(t, svc.IsReady())

	ctx := e.Context()
	e.Close()
	require.True(t, e.IsClosed())
	require.Equal(t, 1, svc.ended)
	require.Error(t, ctx.Err())

	e.Execute(reqs.request(RequestKindConsume, "after-close"))
	require.Zero(t, reqs.runs["after-close"])
	require.Equal(t, 2, svc.numAttempts())

	// Closing twice is harmless.
	e.Close()
	require.Equal(t, 1, svc.ended)
}

func TestExecutor_CloseStopsScheduledRetries(t *testing.T) {
	e, svc, sched, _ := newTestExecutor(t)
	reqs := &countingRequests{runs: map[string]int{}}

	e.Execute(reqs.request(RequestKindQueryPurchases, "query"))
	svc.finishSetup(ResponseCodeError)
	require.Equal(t, 1, sched.outstanding())

	e.Close()
	require.Zero(t, sched.outstanding())
	require.Zero(t, svc.ended, "a connection that is not ready is not ended")
	require.False(t, sched.fireNext())
	require.Equal(t, 1, svc.numAttempts())
}

func TestExecutor_RealScheduler(t *testing.T) {
	svc := newFakeService()
	policy := DefaultRetryPolicy()
	policy.Backoff = func(uint) time.Duration { return time.Millisecond }

	e := NewExecutor(zap.NewNop(), svc, nil, policy, nil, nil)
	defer e.Close()

	e.Execute(NewRequest(RequestKindQueryPurchases, func(_ context.Context, _ Service) {}))
	svc.finishSetup(ResponseCodeError)

	require.Eventually(t, func() bool {
		return svc.numAttempts() == 2
	}, time.Second, time.Millisecond)
}
