// 提供定时器管理功能，包括周期性定时器及带重试的函数执行
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Timer struct {
	id       string        // 定时器唯一标识
	interval time.Duration // 触发间隔
	callback func()        // 定时器触发时执行的回调函数
	ticker   *time.Ticker  // 周期性定时器的底层时钟
	stopChan chan struct{} // 用于停止定时器的信号通道
	once     sync.Once     // 确保Stop操作只执行一次（避免通道重复关闭）
}

type Manager struct {
	mu     sync.RWMutex       // 读写锁，保护timers map的并发访问
	timers map[string]*Timer  // 存储所有定时器，key为定时器ID
	ctx    context.Context    // 用于通知所有定时器停止的上下文
	cancel context.CancelFunc // 用于触发全局停止的函数
}

// 创建一个新的定时器管理器
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		timers: make(map[string]*Timer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// 创建并启动一个周期性定时器
// 参数:
//   id: 定时器唯一标识
//   interval: 触发间隔
//   callback: 每次触发时执行的回调函数
// 返回: 若ID已存在则返回错误，否则返回nil
func (m *Manager) CreateTimer(id string, interval time.Duration, callback func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.timers[id]; exists {
		return fmt.Errorf("timer %s already exists", id)
	}

	timer := &Timer{
		id:       id,
		interval: interval,
		callback: callback,
		ticker:   time.NewTicker(interval),
		stopChan: make(chan struct{}),
	}

	m.timers[id] = timer

	// 处理周期性触发逻辑
	go m.runTimer(timer)

	return nil
}

// RemoveTimer 停止并移除指定ID的定时器
// 参数:
//   id: 要移除的定时器ID
// 返回: 若ID不存在则返回错误，否则返回nil
func (m *Manager) RemoveTimer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer, exists := m.timers[id]
	if !exists {
		return fmt.Errorf("timer %s not found", id)
	}

	// 确保停止操作只执行一次（避免重复关闭通道）
	timer.once.Do(func() {
		timer.ticker.Stop()
		close(timer.stopChan)
	})

	delete(m.timers, id)
	return nil
}

// StopAll 停止并移除所有定时器，同时终止管理器
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, timer := range m.timers {
		timer.once.Do(func() {
			timer.ticker.Stop()
			close(timer.stopChan)
		})
		delete(m.timers, id)
	}

	m.cancel() // 触发全局上下文取消，通知所有相关协程退出
}

// GetTimerCount 获取当前活跃的定时器数量
func (m *Manager) GetTimerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.timers)
}

// runTimer 周期性定时器的运行逻辑（内部协程函数）
func (m *Manager) runTimer(timer *Timer) {
	for {
		select {
		case <-timer.ticker.C: // 周期性触发，执行回调
			timer.callback()
		case <-timer.stopChan: // 被主动停止
			return
		case <-m.ctx.Done(): // 管理器被停止
			return
		}
	}
}

// Retry 带重试逻辑的函数执行：失败后重试指定次数，每次间隔固定时间
// 参数:
//   attempts: 最大尝试次数（含首次）
//   delay: 每次重试的间隔时间
//   fn: 待执行的函数（返回error表示失败）
// 返回: 若成功返回nil，否则返回最后一次错误
func Retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		// 不是最后一次尝试则等待后重试
		if i < attempts-1 && delay > 0 {
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("after %d attempts, last error: %w", attempts, err)
}
