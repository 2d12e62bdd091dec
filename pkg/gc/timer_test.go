package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseTimerAccumulatesAndSwitches(t *testing.T) {
	timer := newPhaseTimer()

	timer.Start(PhaseCollecting)
	time.Sleep(2 * time.Millisecond)
	timer.Start(PhaseDeleting)
	time.Sleep(2 * time.Millisecond)
	timer.Stop()

	totals := timer.Totals()
	assert.Greater(t, totals[PhaseCollecting], time.Duration(0))
	assert.Greater(t, totals[PhaseDeleting], time.Duration(0))
	assert.Zero(t, totals[PhaseSorting])
}

func TestPhaseTimerStopWithoutStartIsNoop(t *testing.T) {
	timer := newPhaseTimer()
	timer.Stop()
	assert.Empty(t, timer.Totals())
}

func TestPhaseMarshalText(t *testing.T) {
	b, err := PhaseDeleting.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "deleting", string(b))
}
