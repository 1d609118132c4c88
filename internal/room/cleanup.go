package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/maivankien/caro-online-server/internal/store"
)

// Sweeper 定期清除閒置過久的等待中房間
//
// 只掃描等待索引中的房間：已開局的房間不在索引內，不會被清除。
type Sweeper struct {
	store      store.Store
	logger     *slog.Logger
	idleExpiry time.Duration
	interval   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// NewSweeper 創建房間清理器
func NewSweeper(st store.Store, logger *slog.Logger, idleExpiry, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:      st,
		logger:     logger,
		idleExpiry: idleExpiry,
		interval:   interval,
		now:        time.Now,
	}
}

// SetClock 替換時間來源（測試用）
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start 啟動背景清理迴圈
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					s.logger.Error("清理閒置房間失敗", "error", err)
				}
			}
		}
	}()
}

// Stop 停止清理迴圈並等待其結束
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Sweep 執行一輪清理，刪除建立後閒置超過 idleExpiry 的等待中房間
func (s *Sweeper) Sweep(ctx context.Context) error {
	before := s.now().Add(-s.idleExpiry).UnixMilli()

	roomIDs, err := s.store.ExpiredWaitingRooms(ctx, before)
	if err != nil {
		return err
	}

	for _, id := range roomIDs {
		if err := s.store.DeleteRoom(ctx, id); err != nil {
			s.logger.Error("刪除過期房間失敗", "room_id", id, "error", err)
			continue
		}
		s.logger.Info("已清除閒置房間", "room_id", id)
	}
	return nil
}
