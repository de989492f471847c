package haclient

import (
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBrokerClient(t *testing.T, onUpdate UpdateStatusFunc) *BrokerClient {
	t.Helper()
	addr := BrokerAddress{Host: "localhost", Port: 5672, Index: 0}
	cfg := (&Config{Serializer: JSONSerializer{}}).withDefaults()
	exc := newExceptionTracker(slog.Default(), nil)
	return NewBrokerClient(addr, cfg, slog.Default(), exc, onUpdate)
}

func TestTransitionFiresCallbackOncePerDistinctState(t *testing.T) {
	var calls int32
	b := newTestBrokerClient(t, func(_ *BrokerClient, _ bool) { atomic.AddInt32(&calls, 1) })

	b.transition(StatusConnecting)
	b.transition(StatusConnecting) // re-entering same state: no-op
	b.transition(StatusConnected)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.Equal(t, StatusConnected, b.Status())
}

func TestClosedNeverRegressesViaTransition(t *testing.T) {
	b := newTestBrokerClient(t, nil)
	b.transition(StatusConnecting)
	b.transition(StatusClosed)

	b.transition(StatusFailed)
	assert.Equal(t, StatusClosed, b.Status())

	b.transition(StatusConnected)
	assert.Equal(t, StatusClosed, b.Status())
}

func TestFailureAccounting(t *testing.T) {
	b := newTestBrokerClient(t, nil)
	b.transition(StatusConnecting)
	b.transition(StatusFailed)
	assert.EqualValues(t, 1, b.StatusSummary().Failures)
	assert.EqualValues(t, 0, b.StatusSummary().Retries)

	b.transition(StatusConnecting)
	b.transition(StatusFailed)
	assert.EqualValues(t, 1, b.StatusSummary().Failures, "still the same unresolved failure streak")
	assert.EqualValues(t, 1, b.StatusSummary().Retries)

	b.transition(StatusConnected)
	b.transition(StatusDisconnected)
	b.transition(StatusFailed)
	assert.EqualValues(t, 2, b.StatusSummary().Failures, "a new failure streak after a successful connect")
}

func TestDisconnectCounter(t *testing.T) {
	b := newTestBrokerClient(t, nil)
	b.transition(StatusConnecting)
	b.transition(StatusConnected)
	b.transition(StatusDisconnected)
	b.transition(StatusConnected)
	b.transition(StatusDisconnected)

	assert.EqualValues(t, 2, b.StatusSummary().Disconnects)
}

func TestSubscribeFailsWhenNotUsable(t *testing.T) {
	b := newTestBrokerClient(t, nil)
	ok := b.Subscribe("q", nil, SubscribeOptions{}, Handler(func(string, interface{}) {}))
	assert.False(t, ok)
}

func TestPublishFailsWhenNotConnected(t *testing.T) {
	b := newTestBrokerClient(t, nil)
	b.transition(StatusConnecting)
	ok := b.Publish("x", []byte("hi"), PublishOptions{}, 0)
	assert.False(t, ok)
}

func TestDeclareFailsWhenNotUsable(t *testing.T) {
	b := newTestBrokerClient(t, nil)
	b.transition(StatusClosed)
	ok := b.Declare(QueueKind, "q", DeclareOptions{})
	assert.False(t, ok)
}

func TestCloseIsIdempotentAndAlwaysInvokesBlock(t *testing.T) {
	b := newTestBrokerClient(t, nil)
	b.transition(StatusConnecting)

	var calls int32
	b.Close(true, func() { atomic.AddInt32(&calls, 1) })
	assert.Equal(t, StatusClosed, b.Status())
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	b.Close(true, func() { atomic.AddInt32(&calls, 1) })
	assert.Equal(t, StatusClosed, b.Status(), "close is terminal and does not regress")
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "second close still runs the completion block")
}

func TestUnsubscribeUnknownQueueIsSilentNoOp(t *testing.T) {
	b := newTestBrokerClient(t, nil)
	assert.True(t, b.Unsubscribe("never-subscribed"))
}
