package testutils

import (
	"sort"
	"sync"
	"time"

	"github.com/alexandreohara/pictionary-test/internal/game"
)

// FakeClock 手動推進的時鐘
//
// AfterFunc 排程的回呼只會在 Advance 時、於呼叫 Advance 的 goroutine 上執行，
// 執行回呼時不持有時鐘的鎖，回呼內可以再排程。
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *FakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

// NewFakeClock 建立從 start 開始的假時鐘
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now 目前時間
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc 排程回呼
func (c *FakeClock) AfterFunc(d time.Duration, f func()) game.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance 推進時間，依序觸發到期的回呼
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// Pending 尚未觸發也未停止的排程數
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live

	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].at.Before(c.timers[j].at)
	})
	if len(c.timers) == 0 || c.timers[0].at.After(target) {
		return nil
	}
	return c.timers[0]
}

// Stop 實作 game.Timer
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
