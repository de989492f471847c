package barrier

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiresOnceAllCompleted(t *testing.T) {
	var fired int32
	b := New(3, 0, func() { atomic.AddInt32(&fired, 1) })

	b.CompletedOne()
	b.CompletedOne()
	assert.EqualValues(t, 0, atomic.LoadInt32(&fired))

	b.CompletedOne()
	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestAtMostOnceEvenWithExtraCompletions(t *testing.T) {
	var fired int32
	b := New(1, 0, func() { atomic.AddInt32(&fired, 1) })

	b.CompletedOne()
	b.CompletedOne()
	b.CompletedOne()

	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestFiresOnTimeoutWhenParticipantsStall(t *testing.T) {
	var fired int32
	b := New(5, 20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	b.CompletedOne() // one checks in, four never do

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, 200*time.Millisecond, 5*time.Millisecond)

	// further completions after the timeout fired must not refire.
	b.CompletedOne()
	b.CompletedOne()
	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestZeroCountFiresImmediately(t *testing.T) {
	var fired int32
	New(0, time.Second, func() { atomic.AddInt32(&fired, 1) })
	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}
