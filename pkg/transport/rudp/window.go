package rudp

import (
	"sync"
	"time"
)

// SegmentRecord 在途段记录
type SegmentRecord struct {
	Seq           uint32    // 段序号（载荷首字节偏移）
	Datagram      []byte    // 编码后的完整数据报，重传时原样重发
	Length        int       // 载荷长度（字节）
	SentAt        time.Time // 最近一次发送时间
	Retransmitted bool      // 是否重传过，重传过的段不参与RTT采样
	Sacked        bool      // 是否被选择确认覆盖
}

// SendWindow 发送窗口，保存已发送未被累计确认的段
// 读取方法返回记录副本，修改统一通过窗口方法完成
type SendWindow struct {
	mu      sync.Mutex
	records map[uint32]*SegmentRecord
}

func NewSendWindow() *SendWindow {
	return &SendWindow{
		records: make(map[uint32]*SegmentRecord),
	}
}

// Add 登记一个新发送的段
func (w *SendWindow) Add(seq uint32, datagram []byte, payloadLen int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.records[seq] = &SegmentRecord{
		Seq:      seq,
		Datagram: datagram,
		Length:   payloadLen,
		SentAt:   time.Now(),
	}
}

// Peek 查询指定序号的段记录副本
func (w *SendWindow) Peek(seq uint32) (SegmentRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[seq]
	if !ok {
		return SegmentRecord{}, false
	}
	return *rec, true
}

// Oldest 查询序号最小的在途段记录副本，窗口为空时第二个返回值为false
func (w *SendWindow) Oldest() (SegmentRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var oldest *SegmentRecord
	for _, rec := range w.records {
		if oldest == nil || rec.Seq < oldest.Seq {
			oldest = rec
		}
	}
	if oldest == nil {
		return SegmentRecord{}, false
	}
	return *oldest, true
}

// AckUpTo 移除被累计确认完全覆盖的段，返回释放的段数与字节数
func (w *SendWindow) AckUpTo(cum uint32) (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	segments, bytes := 0, 0
	for seq, rec := range w.records {
		if rec.Seq+uint32(rec.Length) <= cum {
			segments++
			bytes += rec.Length
			delete(w.records, seq)
		}
	}
	return segments, bytes
}

// MarkSacked 标记被选择确认块完全覆盖的段，返回新标记的段数
// 标记仅用于统计观察，不改变重传决策
func (w *SendWindow) MarkSacked(block SackBlock) int {
	if !block.Valid() {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	marked := 0
	for _, rec := range w.records {
		if rec.Sacked {
			continue
		}
		if rec.Seq >= block.Left && rec.Seq+uint32(rec.Length) <= block.Right {
			rec.Sacked = true
			marked++
		}
	}
	return marked
}

// Refresh 重置段的发送时间并标记为已重传，返回待重发的数据报
func (w *SendWindow) Refresh(seq uint32) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[seq]
	if !ok {
		return nil, false
	}
	rec.SentAt = time.Now()
	rec.Retransmitted = true
	return rec.Datagram, true
}

// Size 获取在途段数量
func (w *SendWindow) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.records)
}

// Clear 清空窗口
func (w *SendWindow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.records = make(map[uint32]*SegmentRecord)
}
