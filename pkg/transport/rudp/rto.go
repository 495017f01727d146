package rudp

import "time"

// RTO估计器默认参数
const (
	DefaultInitialRTO = 300 * time.Millisecond
	DefaultMinRTO     = 100 * time.Millisecond
	DefaultMaxRTO     = 5 * time.Second
	DefaultRTOScale   = 4
)

// RTOEstimator 重传超时估计器
// 按平滑往返时延与偏差计算超时阈值：srtt按1/8权重更新，
// 偏差按1/4权重更新，RTO = srtt + scale*偏差，并限制在[min, max]内
// 非并发安全，由持有者在自身锁内调用
type RTOEstimator struct {
	srtt   time.Duration // 平滑往返时延，0表示尚未采样
	rttvar time.Duration // 往返时延偏差
	rto    time.Duration // 当前重传超时
	scale  int           // 偏差放大系数
	minRTO time.Duration
	maxRTO time.Duration
}

// NewRTOEstimator 创建RTO估计器，首个样本到达前使用initial作为超时
func NewRTOEstimator(initial, min, max time.Duration, scale int) *RTOEstimator {
	if min <= 0 {
		min = DefaultMinRTO
	}
	if max < min {
		max = DefaultMaxRTO
	}
	if initial <= 0 {
		initial = DefaultInitialRTO
	}
	if scale < 1 {
		scale = DefaultRTOScale
	}
	e := &RTOEstimator{
		rto:    initial,
		scale:  scale,
		minRTO: min,
		maxRTO: max,
	}
	e.clamp()
	return e
}

// Update 录入一个往返时延样本并重算超时
// 偏差先用旧的srtt计算，再更新srtt本身
func (e *RTOEstimator) Update(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	if e.srtt == 0 {
		// 首个样本
		e.srtt = rtt
		e.rttvar = rtt / 2
	} else {
		delta := rtt - e.srtt
		if delta < 0 {
			delta = -delta
		}
		e.rttvar = (3*e.rttvar + delta) / 4
		e.srtt = (7*e.srtt + rtt) / 8
	}
	e.rto = e.srtt + time.Duration(e.scale)*e.rttvar
	e.clamp()
}

// Backoff 超时退避，将当前超时翻倍（不超过上限）
func (e *RTOEstimator) Backoff() {
	e.rto *= 2
	e.clamp()
}

// RTO 获取当前重传超时
func (e *RTOEstimator) RTO() time.Duration {
	return e.rto
}

// SRTT 获取平滑往返时延，尚未采样时为0
func (e *RTOEstimator) SRTT() time.Duration {
	return e.srtt
}

func (e *RTOEstimator) clamp() {
	if e.rto < e.minRTO {
		e.rto = e.minRTO
	}
	if e.rto > e.maxRTO {
		e.rto = e.maxRTO
	}
}
