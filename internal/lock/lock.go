// Package lock 實現儲存層上的諮詢鎖（advisory lock）
//
// 系統設計問題：
//
//	就緒座位分配、再戰協商等操作需要跨多次儲存往返維持不變式，
//	單一原子批次無法覆蓋整段臨界區。
//
// 設計方案：
//
//	✅ SETNX + TTL - 鎖只在不存在時建立，持有者崩潰後自然過期
//	✅ 有界重試 - 逾時回報競爭給呼叫端，不無限阻塞
//	✅ 持有者令牌 - 釋放時比對令牌，不誤刪後繼者因 TTL 重取的鎖
//
// 鎖是諮詢性的：只有主動取鎖的程式碼路徑受保護，儲存本身
// 不強制互斥。呼叫端必須在臨界區的每條離開路徑上釋放鎖
//（defer），TTL 只是崩潰時的安全網。
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maivankien/caro-online-server/internal/store"
)

// DefaultRetryInterval 重試取鎖的預設間隔
const DefaultRetryInterval = 100 * time.Millisecond

// Manager 諮詢鎖管理器
type Manager struct {
	store  store.Store
	logger *slog.Logger

	// sleep 可於測試中替換以避免真實等待
	sleep func(time.Duration)
}

// NewManager 創建鎖管理器
func NewManager(st store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  st,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// SetSleep 替換等待函數（測試用）
func (m *Manager) SetSleep(sleep func(time.Duration)) {
	m.sleep = sleep
}

// Acquire 嘗試取得鎖，成功回傳持有者令牌
//
// 鎖記錄只在不存在時建立，帶 ttl 過期；失敗回傳空令牌與 false。
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	acquired, err := m.store.SetNX(ctx, store.LockKey(key), token, ttl)
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// AcquireWithRetry 在 timeout 內輪詢取鎖
//
// 回傳 false 表示競爭逾時：呼叫端應視為「請稍後重試」而非致命
// 錯誤，且此時受保護區間尚未有任何寫入發生。
func (m *Manager) AcquireWithRetry(ctx context.Context, key string, ttl, timeout, retryInterval time.Duration) (string, bool, error) {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	deadline := time.Now().Add(timeout)
	for {
		token, acquired, err := m.Acquire(ctx, key, ttl)
		if err != nil {
			return "", false, err
		}
		if acquired {
			return token, true, nil
		}

		if !time.Now().Add(retryInterval).Before(deadline) {
			m.logger.Debug("取鎖逾時", "key", key, "timeout", timeout)
			return "", false, nil
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		default:
		}
		m.sleep(retryInterval)
	}
}

// Release 釋放鎖
//
// 只刪除仍由 token 持有的鎖：鎖可能已因 TTL 過期並被他人取得。
func (m *Manager) Release(ctx context.Context, key, token string) {
	if err := m.store.CompareAndDelete(ctx, store.LockKey(key), token); err != nil {
		// 釋放失敗不影響正確性（TTL 會兜底），記錄即可
		m.logger.Warn("釋放鎖失敗", "key", key, "error", err)
	}
}
