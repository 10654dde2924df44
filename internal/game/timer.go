package game

import (
	"sync"
	"time"
)

// Clock 時間來源
//
// 房間只透過 Clock 取得時間與排程，測試時以假時鐘驅動回合到期。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer 可停止的排程
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock 使用真實時間的時鐘
func SystemClock() Clock {
	return systemClock{}
}

// RoundTimer 單一回合的倒數計時器
//
// 設計：
//   - 到期只由一個截止排程驅動（deadline），不靠每秒重新排程推算
//   - 進度 tick 只負責回報剩餘時間，剩餘時間永遠從回合開始時間重新計算
//   - Cancel 是 O(1) 且冪等：已到期或已取消的計時器再取消不會有任何效果
//   - 到期與取消互斥：done 只會被設定一次，所以 onExpire 最多呼叫一次，
//     且在 Cancel 成功之後絕不會被呼叫
type RoundTimer struct {
	clock    Clock
	interval time.Duration
	onTick   func()

	mu       sync.Mutex
	deadline Timer
	tick     Timer
	done     bool
}

// StartRoundTimer 啟動計時器
//
// onExpire 在截止時呼叫一次；onTick 每 interval 呼叫一次直到計時器結束，interval <= 0 時不啟動 tick。
// 兩個回呼都在計時器自己的 goroutine 執行，不持有任何房間鎖。
func StartRoundTimer(clock Clock, duration, interval time.Duration, onExpire, onTick func()) *RoundTimer {
	t := &RoundTimer{
		clock:    clock,
		interval: interval,
		onTick:   onTick,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.deadline = clock.AfterFunc(duration, func() {
		if t.finish() {
			onExpire()
		}
	})
	if interval > 0 && onTick != nil {
		t.tick = clock.AfterFunc(interval, t.fireTick)
	}

	return t
}

// Cancel 取消計時器，回傳這次呼叫是否真的停止了一個進行中的計時器
func (t *RoundTimer) Cancel() bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.deadline.Stop()
	if t.tick != nil {
		t.tick.Stop()
	}
	return true
}

// Active 計時器是否仍在倒數
func (t *RoundTimer) Active() bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

// finish 到期時標記結束，與 Cancel 競爭時只有一方成功
func (t *RoundTimer) finish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	if t.tick != nil {
		t.tick.Stop()
	}
	return true
}

func (t *RoundTimer) fireTick() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.tick = t.clock.AfterFunc(t.interval, t.fireTick)
	t.mu.Unlock()

	t.onTick()
}

// SecondsRemaining 以回合開始時間重新計算剩餘秒數：max(0, duration - floor(elapsed))
func SecondsRemaining(start, now time.Time, duration time.Duration) int {
	elapsed := int(now.Sub(start) / time.Second)
	remaining := int(duration/time.Second) - elapsed
	return max(0, remaining)
}
