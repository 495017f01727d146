package rudp

import (
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// OfferResult 段提交结果
type OfferResult int

const (
	OfferAdvanced  OfferResult = iota // 按序写入，交付偏移前进
	OfferBuffered                     // 乱序段已暂存
	OfferDuplicate                    // 重复段，已交付或已暂存
	OfferEOF                          // 传输结束标记
)

// Reassembler 重组器，将乱序到达的段还原为有序字节流写入下游
// 结束标记是虚拟段：只记录其偏移，不占用暂存空间也不写入下游
type Reassembler struct {
	mu       sync.Mutex
	sink     io.Writer
	expected uint32            // 下一个期望交付的偏移
	pending  map[uint32][]byte // 乱序暂存，首个到达的副本生效
	hasEOF   bool
	eofSeq   uint32            // 结束标记携带的总长度偏移
	written  uint64            // 已写入下游的字节数
}

func NewReassembler(sink io.Writer) *Reassembler {
	return &Reassembler{
		sink:    sink,
		pending: make(map[uint32][]byte),
	}
}

// Offer 提交一个到达的段
// 按序段立即写入并尽量排空暂存区，乱序段拷贝暂存（载荷缓冲区可复用），
// 已覆盖的段计为重复。无论结果如何，调用方都应回送确认
func (r *Reassembler) Offer(seq uint32, payload []byte) (OfferResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 结束标记优先判断，避免被当作普通数据暂存或写入
	if IsEOFPayload(payload) {
		if !r.hasEOF {
			r.hasEOF = true
			r.eofSeq = seq
		}
		return OfferEOF, nil
	}

	if seq < r.expected {
		return OfferDuplicate, nil
	}

	if seq > r.expected {
		if _, ok := r.pending[seq]; ok {
			return OfferDuplicate, nil
		}
		buf := make([]byte, len(payload))
		copy(buf, payload)
		r.pending[seq] = buf
		return OfferBuffered, nil
	}

	// 按序到达：写入后继续排空暂存区中紧邻的段
	if err := r.deliver(payload); err != nil {
		return OfferAdvanced, err
	}
	for {
		next, ok := r.pending[r.expected]
		if !ok {
			break
		}
		delete(r.pending, r.expected)
		if err := r.deliver(next); err != nil {
			return OfferAdvanced, err
		}
	}
	return OfferAdvanced, nil
}

func (r *Reassembler) deliver(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if _, err := r.sink.Write(payload); err != nil {
		return errors.Wrap(err, "write segment to sink")
	}
	r.expected += uint32(len(payload))
	r.written += uint64(len(payload))
	return nil
}

// Ack 构造当前状态的确认信息：累计确认加至多两个最低的暂存连续区间
func (r *Reassembler) Ack() Ack {
	r.mu.Lock()
	defer r.mu.Unlock()

	ack := Ack{Cumulative: r.expected}
	if len(r.pending) == 0 {
		return ack
	}

	seqs := make([]uint32, 0, len(r.pending))
	for seq := range r.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	// 合并相邻段为连续区间，右边界为开区间
	idx := 0
	for _, seq := range seqs {
		end := seq + uint32(len(r.pending[seq]))
		if idx > 0 && ack.Blocks[idx-1].Right == seq {
			ack.Blocks[idx-1].Right = end
			continue
		}
		if idx >= len(ack.Blocks) {
			break
		}
		ack.Blocks[idx] = SackBlock{Left: seq, Right: end}
		idx++
	}
	return ack
}

// Expected 获取下一个期望交付的偏移
func (r *Reassembler) Expected() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.expected
}

// Complete 判断传输是否完成：已观察到结束标记且交付偏移到达其位置
func (r *Reassembler) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.hasEOF && r.expected == r.eofSeq
}

// EOFSeq 获取结束标记携带的总长度偏移，第二个返回值表示是否已观察到
func (r *Reassembler) EOFSeq() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.eofSeq, r.hasEOF
}

// BytesWritten 获取已写入下游的字节数
func (r *Reassembler) BytesWritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.written
}

// PendingCount 获取当前暂存的乱序段数量
func (r *Reassembler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}
