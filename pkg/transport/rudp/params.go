package rudp

import "time"

// 传输循环默认参数
const (
	DefaultPollTimeout  = 5 * time.Millisecond
	DefaultMaxRetries   = 5
	DefaultRetryTimeout = 2 * time.Second
	DefaultBurstLimit   = 60
	DefaultAckBatch     = 50
	DefaultRecvBatch    = 60
	DefaultEOFRepeat    = 10
	DefaultEOFInterval  = 20 * time.Millisecond
	DefaultTerminalAcks = 5
	DefaultMaxIdleIters = 500
)

// Params 传输参数，零值字段取默认值
type Params struct {
	MSS          int           // 单段载荷上限（字节），不超过MaxData
	PollTimeout  time.Duration // 轮询接收的单次等待
	InitialRTO   time.Duration // 首个RTT样本前的重传超时
	MinRTO       time.Duration // 重传超时下限
	MaxRTO       time.Duration // 重传超时上限
	RTOScale     int           // RTO偏差放大系数
	MaxRetries   int           // 握手请求重试次数
	RetryTimeout time.Duration // 单次握手请求的等待上限
	BurstLimit   int           // 单次循环最多新发段数
	AckBatch     int           // 单次循环最多处理确认数
	RecvBatch    int           // 单次循环最多处理数据段数
	EOFRepeat    int           // 结束标记重复发送次数
	EOFInterval  time.Duration // 结束标记发送间隔
	TerminalAcks int           // 传输完成后补发确认的次数
	MaxIdleIters int           // 连续空轮询上限，超过判定对端失联
}

// DefaultParams 获取全部取默认值的传输参数
func DefaultParams() Params {
	return Params{}.withDefaults()
}

func (p Params) withDefaults() Params {
	if p.MSS <= 0 || p.MSS > MaxData {
		p.MSS = MaxData
	}
	if p.PollTimeout <= 0 {
		p.PollTimeout = DefaultPollTimeout
	}
	if p.InitialRTO <= 0 {
		p.InitialRTO = DefaultInitialRTO
	}
	if p.MinRTO <= 0 {
		p.MinRTO = DefaultMinRTO
	}
	if p.MaxRTO <= 0 {
		p.MaxRTO = DefaultMaxRTO
	}
	if p.RTOScale < 1 {
		p.RTOScale = DefaultRTOScale
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.RetryTimeout <= 0 {
		p.RetryTimeout = DefaultRetryTimeout
	}
	if p.BurstLimit <= 0 {
		p.BurstLimit = DefaultBurstLimit
	}
	if p.AckBatch <= 0 {
		p.AckBatch = DefaultAckBatch
	}
	if p.RecvBatch <= 0 {
		p.RecvBatch = DefaultRecvBatch
	}
	if p.EOFRepeat <= 0 {
		p.EOFRepeat = DefaultEOFRepeat
	}
	if p.EOFInterval <= 0 {
		p.EOFInterval = DefaultEOFInterval
	}
	if p.TerminalAcks <= 0 {
		p.TerminalAcks = DefaultTerminalAcks
	}
	if p.MaxIdleIters <= 0 {
		p.MaxIdleIters = DefaultMaxIdleIters
	}
	return p
}
