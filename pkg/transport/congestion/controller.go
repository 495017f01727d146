// 拥塞控制算法实现模块，为发送端滑动窗口提供窗口大小决策
// 窗口以段为单位计数，由传输循环在确认到达/超时/快速重传时驱动状态迁移
package congestion

import (
	"fmt"
	"sync"
)

// 拥塞状态常量
const (
	StateSlowStart = "slow_start"           // 慢启动：窗口指数增长
	StateAvoidance = "congestion_avoidance" // 拥塞避免：窗口线性增长
	StateFixed     = "fixed"                // 固定窗口：不随网络状况调整
)

// 窗口与阈值下限（单位：段）
const (
	minWindow   = 1.0
	minSsthresh = 2.0
)

// Controller 拥塞控制接口，定义窗口策略需实现的核心方法
type Controller interface {
	// OnNewAck 当累计确认前进时调用，acked为本次新确认的段数
	OnNewAck(acked int)
	// OnTimeout 当最早在途段重传超时时调用
	OnTimeout()
	// OnFastRetransmit 当三次重复确认触发快速重传时调用
	OnFastRetransmit()
	// WindowSegments 获取当前允许的在途窗口大小（单位：段，向下取整，至少为1）
	WindowSegments() int
	// Stats 获取当前拥塞控制的统计信息
	Stats() Stats
}

// Stats 拥塞控制统计信息，用于监控和分析算法行为
type Stats struct {
	Cwnd            float64 // 当前拥塞窗口（段，保留小数部分）
	Ssthresh        float64 // 慢启动阈值（段）
	State           string  // 当前状态（StateXXX常量）
	NewAckEvents    uint64  // 累计确认前进事件数
	TimeoutEvents   uint64  // 超时事件数
	FastRetransmits uint64  // 快速重传事件数
}

// ------------------------------
// Reno拥塞控制算法实现（经典TCP Reno）
// 特点：基于丢包检测，包含慢启动、拥塞避免与快速重传后的窗口收缩
// ------------------------------

type RenoController struct {
	mu sync.Mutex // 保护窗口状态的并发读取（统计上报与传输循环并发）

	cwnd      float64 // 拥塞窗口（段，小数累积使拥塞避免阶段每RTT约增长1段）
	ssthresh  float64 // 慢启动阈值（段）
	slowStart bool    // true=慢启动阶段，false=拥塞避免阶段

	newAcks  uint64 // 累计确认前进事件数
	timeouts uint64 // 超时事件数
	fastRetx uint64 // 快速重传事件数
}

// NewRenoController 创建Reno控制器
// 参数ssthresh为初始慢启动阈值（段），小于下限时取下限
func NewRenoController(ssthresh int) *RenoController {
	th := float64(ssthresh)
	if th < minSsthresh {
		th = minSsthresh
	}
	return &RenoController{
		cwnd:      minWindow,
		ssthresh:  th,
		slowStart: true,
	}
}

// 累计确认前进：慢启动按段数增长，拥塞避免按段数/窗口增长
func (r *RenoController) OnNewAck(acked int) {
	if acked <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.newAcks++
	if r.slowStart {
		// 慢启动阶段：每个新确认段使窗口+1，达到阈值后转入拥塞避免
		r.cwnd += float64(acked)
		if r.cwnd >= r.ssthresh {
			r.slowStart = false
		}
	} else {
		// 拥塞避免阶段：线性增长，约每个RTT窗口+1
		r.cwnd += float64(acked) / r.cwnd
	}
}

// 超时：阈值减半、窗口回到1段，重新进入慢启动
func (r *RenoController) OnTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timeouts++
	r.ssthresh = r.cwnd / 2
	if r.ssthresh < minSsthresh {
		r.ssthresh = minSsthresh
	}
	r.cwnd = minWindow
	r.slowStart = true
}

// 快速重传：阈值减半，窗口=阈值+3（3个重复确认对应已离开网络的3段），进入拥塞避免
func (r *RenoController) OnFastRetransmit() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fastRetx++
	r.ssthresh = r.cwnd / 2
	if r.ssthresh < minSsthresh {
		r.ssthresh = minSsthresh
	}
	r.cwnd = r.ssthresh + 3
	r.slowStart = false
}

func (r *RenoController) WindowSegments() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int(r.cwnd)
	if n < 1 {
		n = 1
	}
	return n
}

func (r *RenoController) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := StateAvoidance
	if r.slowStart {
		state = StateSlowStart
	}
	return Stats{
		Cwnd:            r.cwnd,
		Ssthresh:        r.ssthresh,
		State:           state,
		NewAckEvents:    r.newAcks,
		TimeoutEvents:   r.timeouts,
		FastRetransmits: r.fastRetx,
	}
}

// ------------------------------
// 固定窗口实现（简单滑动窗口变体）
// 特点：窗口恒定，事件仅计数，用于无拥塞控制的基准传输
// ------------------------------

type FixedWindowController struct {
	mu sync.Mutex

	window int // 固定窗口大小（段）

	newAcks  uint64
	timeouts uint64
	fastRetx uint64
}

// NewFixedWindowController 创建固定窗口控制器
// 参数window为窗口大小（段），小于1时取1
func NewFixedWindowController(window int) *FixedWindowController {
	if window < 1 {
		window = 1
	}
	return &FixedWindowController{window: window}
}

func (f *FixedWindowController) OnNewAck(acked int) {
	if acked <= 0 {
		return
	}
	f.mu.Lock()
	f.newAcks++
	f.mu.Unlock()
}

func (f *FixedWindowController) OnTimeout() {
	f.mu.Lock()
	f.timeouts++
	f.mu.Unlock()
}

func (f *FixedWindowController) OnFastRetransmit() {
	f.mu.Lock()
	f.fastRetx++
	f.mu.Unlock()
}

func (f *FixedWindowController) WindowSegments() int {
	return f.window
}

func (f *FixedWindowController) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Stats{
		Cwnd:            float64(f.window),
		Ssthresh:        0,
		State:           StateFixed,
		NewAckEvents:    f.newAcks,
		TimeoutEvents:   f.timeouts,
		FastRetransmits: f.fastRetx,
	}
}

// 创建拥塞控制器实例（根据算法类型）
// 参数:
//   algorithm: "fixed"或"reno"
//   windowSegments: 固定窗口大小（仅fixed使用）
//   ssthresh: 初始慢启动阈值（仅reno使用）
func NewController(algorithm string, windowSegments, ssthresh int) (Controller, error) {
	switch algorithm {
	case "fixed":
		return NewFixedWindowController(windowSegments), nil
	case "reno":
		return NewRenoController(ssthresh), nil
	default:
		return nil, fmt.Errorf("不支持的拥塞控制算法: %s", algorithm)
	}
}
