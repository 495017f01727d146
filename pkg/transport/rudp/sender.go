package rudp

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/SaharshLaud/rudp-go/pkg/transport/congestion"
	"github.com/SaharshLaud/rudp-go/pkg/utils/logger"
)

// Sender 发送端传输循环
// 单线程轮询模型：每轮先在窗口允许范围内发出新段，再批量处理确认，
// 最后检查最早在途段是否超时。全部数据被累计确认后进入结束阶段，
// 按固定次数重复发送结束标记
type Sender struct {
	mu sync.RWMutex

	ep     Endpoint
	ctrl   congestion.Controller
	est    *RTOEstimator
	window *SendWindow
	params Params

	payload  []byte
	total    uint32 // 总字节数
	sendBase uint32 // 最小未确认偏移
	nextSeq  uint32 // 下一个待发送偏移

	// 重复确认跟踪，累计确认前进时清零
	dupSeq   uint32
	dupCount int

	recvBuf []byte
	started time.Time
	stats   Stats
}

// NewSender 创建发送端，payload为待传输的完整数据
func NewSender(ep Endpoint, ctrl congestion.Controller, payload []byte, params Params) (*Sender, error) {
	if ep == nil || ctrl == nil {
		return nil, errors.New("endpoint and controller are required")
	}
	if int64(len(payload)) > math.MaxUint32 {
		return nil, errors.Errorf("payload too large: %d bytes", len(payload))
	}
	p := params.withDefaults()
	return &Sender{
		ep:      ep,
		ctrl:    ctrl,
		est:     NewRTOEstimator(p.InitialRTO, p.MinRTO, p.MaxRTO, p.RTOScale),
		window:  NewSendWindow(),
		params:  p,
		payload: payload,
		total:   uint32(len(payload)),
		recvBuf: make([]byte, MaxDatagram),
	}, nil
}

// Run 执行完整传输，返回前关闭端点
// 对端首个数据报视为传输请求，之后开始发送数据
func (s *Sender) Run(ctx context.Context) error {
	defer s.ep.Close()
	s.started = time.Now()

	logger.Info("sender ready",
		logger.String("listen", addrString(s.ep.LocalAddr())),
		logger.Uint64("total", uint64(s.total)))

	if err := s.waitForPeer(ctx); err != nil {
		return err
	}
	s.ep.SetRecvTimeout(s.params.PollTimeout)

	idle := 0
	lastReport := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.admitSegments()
		got, err := s.drainAcks()
		if err != nil {
			return err
		}
		if s.finished() {
			return s.sendEOF(ctx)
		}
		if got > 0 {
			idle = 0
		} else {
			idle++
			if idle >= s.params.MaxIdleIters {
				return errors.Wrapf(ErrTransferIncomplete, "no ack after %d polls", idle)
			}
		}
		s.checkTimeout()

		if time.Since(lastReport) >= time.Second {
			s.logProgress()
			lastReport = time.Now()
		}
	}
}

// 每秒一条进度日志
func (s *Sender) logProgress() {
	p := s.Progress()
	percent := float64(0)
	if p.BytesTotal > 0 {
		percent = float64(p.BytesDone) * 100 / float64(p.BytesTotal)
	}
	logger.Info("progress",
		logger.Float64("percent", percent),
		logger.Uint64("acked", p.BytesDone),
		logger.Int("cwnd", p.Cwnd),
		logger.Duration("rto", p.RTO),
		logger.Int("inflight", p.InFlight))
}

// 等待对端的传输请求，任意首个数据报均视为请求，内容不做校验
func (s *Sender) waitForPeer(ctx context.Context) error {
	s.ep.SetRecvTimeout(s.params.PollTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := s.ep.Recv(s.recvBuf)
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			return errors.Wrap(err, "wait for transfer request")
		}
		atomic.AddUint64(&s.stats.PacketsReceived, 1)
		atomic.AddUint64(&s.stats.BytesReceived, uint64(n))
		logger.Info("peer connected", logger.String("peer", addrString(s.ep.RemoteAddr())))
		return nil
	}
}

// 在窗口允许范围内发出新段，单轮不超过突发上限
func (s *Sender) admitSegments() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for burst := 0; burst < s.params.BurstLimit; burst++ {
		if s.nextSeq >= s.total {
			return
		}
		windowBytes := uint32(s.ctrl.WindowSegments()) * uint32(s.params.MSS)
		if s.nextSeq-s.sendBase >= windowBytes {
			return
		}

		end := s.nextSeq + uint32(s.params.MSS)
		if end > s.total {
			end = s.total
		}
		datagram := EncodeData(s.nextSeq, s.payload[s.nextSeq:end])
		if err := s.ep.Send(datagram); err != nil {
			logger.Warn("send segment failed", logger.Uint32("seq", s.nextSeq), logger.Err(err))
			return
		}
		s.window.Add(s.nextSeq, datagram, int(end-s.nextSeq))
		atomic.AddUint64(&s.stats.PacketsSent, 1)
		atomic.AddUint64(&s.stats.BytesSent, uint64(len(datagram)))
		s.nextSeq = end
	}
}

// 批量接收确认，收完批次上限或等待超时为止，返回本轮收到的数据报数
func (s *Sender) drainAcks() (int, error) {
	got := 0
	for got < s.params.AckBatch {
		n, err := s.ep.Recv(s.recvBuf)
		if err != nil {
			if IsTimeout(err) {
				return got, nil
			}
			return got, errors.Wrap(err, "receive ack")
		}
		got++
		atomic.AddUint64(&s.stats.PacketsReceived, 1)
		atomic.AddUint64(&s.stats.BytesReceived, uint64(n))

		ack, err := DecodeAck(s.recvBuf[:n])
		if err != nil {
			// 迟到的握手请求等短报文无法解析为确认，直接丢弃
			atomic.AddUint64(&s.stats.MalformedDrops, 1)
			continue
		}
		s.handleAck(ack)
	}
	return got, nil
}

func (s *Sender) handleAck(ack Ack) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cum := ack.Cumulative
	if cum > s.nextSeq {
		atomic.AddUint64(&s.stats.InvalidAcks, 1)
		logger.Debug("ack beyond sent range",
			logger.Uint32("cum", cum), logger.Uint32("next", s.nextSeq))
		return
	}

	switch {
	case cum > s.sendBase:
		// 重传过的段不参与RTT采样
		if rec, ok := s.window.Peek(s.sendBase); ok && !rec.Retransmitted {
			s.est.Update(time.Since(rec.SentAt))
		}
		freed, _ := s.window.AckUpTo(cum)
		s.sendBase = cum
		s.dupCount = 0
		s.ctrl.OnNewAck(freed)
	case cum == s.sendBase && s.sendBase < s.total:
		atomic.AddUint64(&s.stats.DuplicateAcks, 1)
		if s.dupSeq != cum {
			s.dupSeq = cum
			s.dupCount = 0
		}
		s.dupCount++
		if s.dupCount == 3 {
			s.fastRetransmit(cum)
			s.dupCount = 0
		}
	}

	// 选择确认只用于标记观察，不触发重传
	for _, block := range ack.Blocks {
		if marked := s.window.MarkSacked(block); marked > 0 {
			atomic.AddUint64(&s.stats.SackedSegments, uint64(marked))
		}
	}
}

// 三次重复确认触发：立即重发确认偏移处的段
func (s *Sender) fastRetransmit(seq uint32) {
	datagram, ok := s.window.Refresh(seq)
	if !ok {
		return
	}
	if err := s.ep.Send(datagram); err != nil {
		logger.Warn("fast retransmit send failed", logger.Uint32("seq", seq), logger.Err(err))
		return
	}
	atomic.AddUint64(&s.stats.PacketsSent, 1)
	atomic.AddUint64(&s.stats.BytesSent, uint64(len(datagram)))
	atomic.AddUint64(&s.stats.Retransmissions, 1)
	atomic.AddUint64(&s.stats.FastRetransmits, 1)
	s.ctrl.OnFastRetransmit()
	logger.Debug("fast retransmit", logger.Uint32("seq", seq))
}

// 每轮只检查最早的在途段，超时则重发并退避
func (s *Sender) checkTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.window.Oldest()
	if !ok {
		return
	}
	if time.Since(rec.SentAt) < s.est.RTO() {
		return
	}

	datagram, ok := s.window.Refresh(rec.Seq)
	if !ok {
		return
	}
	if err := s.ep.Send(datagram); err != nil {
		logger.Warn("timeout retransmit send failed", logger.Uint32("seq", rec.Seq), logger.Err(err))
	} else {
		atomic.AddUint64(&s.stats.PacketsSent, 1)
		atomic.AddUint64(&s.stats.BytesSent, uint64(len(datagram)))
		atomic.AddUint64(&s.stats.Retransmissions, 1)
		atomic.AddUint64(&s.stats.TimeoutRetransmits, 1)
	}
	s.est.Backoff()
	s.ctrl.OnTimeout()
	logger.Debug("timeout retransmit",
		logger.Uint32("seq", rec.Seq), logger.Duration("rto", s.est.RTO()))
}

func (s *Sender) finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sendBase >= s.total
}

// 结束阶段：按固定次数与间隔重复发送结束标记，不等待确认
func (s *Sender) sendEOF(ctx context.Context) error {
	eof := EncodeData(s.total, []byte(EOFMarker))
	for i := 0; i < s.params.EOFRepeat; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.params.EOFInterval):
			}
		}
		if err := s.ep.Send(eof); err != nil {
			logger.Warn("send eof failed", logger.Err(err))
			continue
		}
		atomic.AddUint64(&s.stats.PacketsSent, 1)
		atomic.AddUint64(&s.stats.BytesSent, uint64(len(eof)))
	}

	logger.Info("transfer finished",
		logger.Uint64("bytes", uint64(s.total)),
		logger.Duration("elapsed", time.Since(s.started)),
		logger.Uint64("retransmissions", atomic.LoadUint64(&s.stats.Retransmissions)))
	return nil
}

// Stats 获取统计快照
func (s *Sender) Stats() Stats {
	return s.stats.snapshot()
}

// Progress 获取进度快照
func (s *Sender) Progress() ProgressInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ProgressInfo{
		BytesTotal: uint64(s.total),
		BytesDone:  uint64(s.sendBase),
		Cwnd:       s.ctrl.WindowSegments(),
		RTO:        s.est.RTO(),
		SRTT:       s.est.SRTT(),
		InFlight:   s.window.Size(),
	}
}
