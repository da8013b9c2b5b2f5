package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAfterFuncFiresOnlyWhenDue(t *testing.T) {
	clk := Fake(epoch)
	fired := 0
	clk.AfterFunc(100*time.Millisecond, func() { fired++ })

	clk.Advance(99 * time.Millisecond)
	assert.Equal(t, 0, fired)

	clk.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)

	clk.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, clk.Pending())
}

func TestAfterFuncStop(t *testing.T) {
	clk := Fake(epoch)
	fired := false
	timer := clk.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	clk.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestAfterFuncOrder(t *testing.T) {
	clk := Fake(epoch)
	var order []string
	clk.AfterFunc(300*time.Millisecond, func() { order = append(order, "late") })
	clk.AfterFunc(100*time.Millisecond, func() { order = append(order, "early") })

	clk.Advance(time.Second)
	assert.Equal(t, []string{"early", "late"}, order)
}

func TestCallbackMayScheduleAnotherTimer(t *testing.T) {
	clk := Fake(epoch)
	count := 0
	var schedule func()
	schedule = func() {
		count++
		if count < 3 {
			clk.AfterFunc(100*time.Millisecond, schedule)
		}
	}
	clk.AfterFunc(100*time.Millisecond, schedule)

	clk.Advance(time.Second)
	assert.Equal(t, 3, count)
}

func TestTicker(t *testing.T) {
	clk := Fake(epoch)
	ticker := clk.NewTicker(time.Second)

	clk.Advance(time.Second)
	select {
	case tick := <-ticker.C:
		assert.Equal(t, epoch.Add(time.Second), tick)
	default:
		t.Fatal("expected a tick")
	}

	ticker.Stop()
	clk.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
}

func TestAfter(t *testing.T) {
	clk := Fake(epoch)
	channel := clk.After(time.Minute)

	clk.Advance(time.Minute)
	select {
	case now := <-channel:
		assert.Equal(t, epoch.Add(time.Minute), now)
	default:
		t.Fatal("After did not fire")
	}
	assert.Equal(t, epoch.Add(time.Minute), clk.Now())
}
