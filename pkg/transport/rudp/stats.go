package rudp

import (
	"sync/atomic"
	"time"
)

// Stats 传输统计，计数器以原子方式更新，传输过程中可随时读取
type Stats struct {
	PacketsSent        uint64 // 已发送数据报数
	PacketsReceived    uint64 // 已接收数据报数
	BytesSent          uint64 // 已发送字节数（含头部）
	BytesReceived      uint64 // 已接收字节数（含头部）
	Retransmissions    uint64 // 重传总数
	FastRetransmits    uint64 // 快速重传数
	TimeoutRetransmits uint64 // 超时重传数
	DuplicateAcks      uint64 // 收到的重复确认数
	InvalidAcks        uint64 // 确认偏移超出已发送范围的次数
	MalformedDrops     uint64 // 无法解析而丢弃的数据报数
	SackedSegments     uint64 // 被选择确认覆盖的段数
	DuplicateSegments  uint64 // 收到的重复数据段数
	OutOfOrderBuffered uint64 // 乱序暂存的段数
}

func (s *Stats) snapshot() Stats {
	return Stats{
		PacketsSent:        atomic.LoadUint64(&s.PacketsSent),
		PacketsReceived:    atomic.LoadUint64(&s.PacketsReceived),
		BytesSent:          atomic.LoadUint64(&s.BytesSent),
		BytesReceived:      atomic.LoadUint64(&s.BytesReceived),
		Retransmissions:    atomic.LoadUint64(&s.Retransmissions),
		FastRetransmits:    atomic.LoadUint64(&s.FastRetransmits),
		TimeoutRetransmits: atomic.LoadUint64(&s.TimeoutRetransmits),
		DuplicateAcks:      atomic.LoadUint64(&s.DuplicateAcks),
		InvalidAcks:        atomic.LoadUint64(&s.InvalidAcks),
		MalformedDrops:     atomic.LoadUint64(&s.MalformedDrops),
		SackedSegments:     atomic.LoadUint64(&s.SackedSegments),
		DuplicateSegments:  atomic.LoadUint64(&s.DuplicateSegments),
		OutOfOrderBuffered: atomic.LoadUint64(&s.OutOfOrderBuffered),
	}
}

// ProgressInfo 传输进度快照
type ProgressInfo struct {
	BytesTotal uint64        // 总字节数，接收端在观察到结束标记前为0
	BytesDone  uint64        // 发送端为已确认字节数，接收端为已交付字节数
	Cwnd       int           // 当前发送窗口（段），接收端为0
	RTO        time.Duration // 当前重传超时，接收端为0
	SRTT       time.Duration // 平滑往返时延，接收端为0
	InFlight   int           // 在途段数，接收端为0
	Pending    int           // 乱序暂存段数，发送端为0
}
