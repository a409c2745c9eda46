package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fail = 'F'
	ok   = 'S'
)

func TestBreakerDefaults(t *testing.T) {
	b := New("kafka-audit")

	assert.Equal(t, "kafka-audit", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())

	for range 4 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen(), "default threshold is five consecutive failures")
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.Equal(t, "open", b.State().String())
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		outcomes  string
		wantOpen  bool
	}{
		{name: "stays closed below the failure threshold", failures: 3, successes: 2, outcomes: "FF", wantOpen: false},
		{name: "opens at the failure threshold", failures: 3, successes: 2, outcomes: "FFF", wantOpen: true},
		{name: "success clears the failure streak", failures: 3, successes: 2, outcomes: "FFSFF", wantOpen: false},
		{name: "one success is not enough to close", failures: 1, successes: 2, outcomes: "FS", wantOpen: true},
		{name: "closes after consecutive successes", failures: 1, successes: 2, outcomes: "FSS", wantOpen: false},
		{name: "failure while open restarts the success streak", failures: 1, successes: 3, outcomes: "FSSFSS", wantOpen: true},
		{name: "recovers after a full success streak", failures: 1, successes: 3, outcomes: "FSSFSSS", wantOpen: false},
		{name: "reopens after recovering", failures: 1, successes: 1, outcomes: "FSF", wantOpen: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("sink", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.successes))
			for _, o := range tt.outcomes {
				switch o {
				case fail:
					b.RecordFailure()
				case ok:
					b.RecordSuccess()
				}
			}
			assert.Equal(t, tt.wantOpen, b.IsOpen())
		})
	}
}

func TestBreakerReportsEachTransitionOnce(t *testing.T) {
	b := New("sink", WithFailureThreshold(2), WithSuccessThreshold(1))

	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.Equal(t, StateChange{}, change)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.Equal(t, StateChange{Opened: true}, change)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback, "an open circuit keeps routing to the fallback")
	assert.Equal(t, StateChange{}, change)

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.Equal(t, StateChange{Closed: true}, change)

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.Equal(t, StateChange{}, change)
}

func TestBreakerIgnoresNonPositiveThresholds(t *testing.T) {
	b := New("sink", WithFailureThreshold(0), WithSuccessThreshold(-1))
	for range 4 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen())
}

func TestBreakerReset(t *testing.T) {
	b := New("sink", WithFailureThreshold(1), WithSuccessThreshold(5))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	// Reset clears counters too: a single failure reopens only because the threshold is one.
	_, change := b.RecordFailure()
	assert.True(t, change.Opened)
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("sink", WithFailureThreshold(10))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.True(t, b.IsOpen())
	assert.Equal(t, 1, opened)
}
