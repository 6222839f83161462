package progress

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisabledBarWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	b := NewWithWriter(false, "embedding", &buf)
	b.Start(4)
	b.Increment()
	b.Finish()
	assert.Zero(t, buf.Len())
}

func TestBarDrawsDescription(t *testing.T) {
	var buf bytes.Buffer
	b := NewWithWriter(true, "embedding", &buf)
	b.Start(4)
	for i := 0; i < 4; i++ {
		b.Increment()
	}
	b.Finish()
	assert.Contains(t, buf.String(), "embedding")

	// Finish resets the bar, so stray ticks are ignored.
	b.Increment()
}

func TestZeroTotalIsIgnored(t *testing.T) {
	var buf bytes.Buffer
	b := NewWithWriter(true, "embedding", &buf)
	b.Start(0)
	b.Increment()
	b.Finish()
	assert.Zero(t, buf.Len())
}

func TestDisabledSpinnerStops(t *testing.T) {
	stop := StartSpinner(false, "loading")
	stop()
}

func TestSpinnerDrawsUntilStopped(t *testing.T) {
	var buf bytes.Buffer
	stop := StartSpinnerWithWriter(true, "importing", &buf)
	time.Sleep(300 * time.Millisecond)
	stop()
	assert.Contains(t, buf.String(), "importing")
}
