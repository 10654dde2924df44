package recorder

import (
	"context"
	"errors"
	"sync"

	"github.com/alexandreohara/pictionary-test/internal/game"
)

// Multi 把同一場遊戲同時交給多個 Recorder
//
// 每個 sink 獨立執行，一個失敗不影響其他；錯誤以 errors.Join 合併回傳。
type Multi []game.Recorder

// NewMulti 過濾掉 nil 的 sink
func NewMulti(recorders ...game.Recorder) Multi {
	m := make(Multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

// RecordGame 並行呼叫所有 sink 並等待完成
func (m Multi) RecordGame(ctx context.Context, result game.GameResult) error {
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0].RecordGame(ctx, result)
	}

	errs := make([]error, len(m))
	var wg sync.WaitGroup
	for i, r := range m {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.RecordGame(ctx, result)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
