package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRealClockTicker(t *testing.T) {
	ticker := RealClock{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestRealClockTimerStop(t *testing.T) {
	timer := RealClock{}.NewTimer(time.Hour)
	assert.True(t, timer.Stop())
}

func TestMockClockAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	c.Advance(250 * time.Millisecond)
	assert.Equal(t, epoch.Add(250*time.Millisecond), c.Now())

	c.Set(epoch)
	assert.Equal(t, epoch, c.Now())
}

func TestMockTimer(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)

	c.Advance(999 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Millisecond)
	select {
	case got := <-timer.C():
		assert.Equal(t, epoch.Add(time.Second), got)
	default:
		t.Fatal("timer did not fire at deadline")
	}

	assert.False(t, timer.Stop(), "fired timer is no longer active")
}

func TestMockTimerStopAndReset(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)
	assert.True(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.Empty(t, timer.C())

	assert.False(t, timer.Reset(time.Second))
	c.Advance(500 * time.Millisecond)
	assert.Empty(t, timer.C())
	c.Advance(500 * time.Millisecond)
	assert.Len(t, timer.C(), 1)
}

func TestMockAfter(t *testing.T) {
	c := NewMockClock(epoch)
	ch := c.After(100 * time.Millisecond)
	c.Advance(100 * time.Millisecond)
	assert.Len(t, ch, 1)
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(100 * time.Millisecond)

	fired := 0
	for range 5 {
		c.Advance(100 * time.Millisecond)
		select {
		case <-ticker.C():
			fired++
		default:
		}
	}
	assert.Equal(t, 5, fired)

	// a long jump still delivers a single tick
	c.Advance(time.Second)
	assert.Len(t, ticker.C(), 1)
	<-ticker.C()

	ticker.Stop()
	c.Advance(time.Second)
	assert.Empty(t, ticker.C())

	ticker.Reset(50 * time.Millisecond)
	c.Advance(50 * time.Millisecond)
	assert.Len(t, ticker.C(), 1)
}

func TestMockTickerTrigger(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(time.Hour).(*MockTicker)
	ticker.Trigger(epoch)
	assert.Equal(t, epoch, <-ticker.C())
}

func TestMockClockWaitForWaiters(t *testing.T) {
	c := NewMockClock(epoch)
	done := make(chan struct{})
	go func() {
		c.WaitForWaiters(2)
		close(done)
	}()

	c.NewTicker(time.Second)
	c.NewTimer(time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForWaiters did not return")
	}
}

func TestMockTickerRejectsZeroInterval(t *testing.T) {
	assert.Panics(t, func() { NewMockClock(epoch).NewTicker(0) })
}
