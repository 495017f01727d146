package rudp

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/SaharshLaud/rudp-go/pkg/utils/logger"
	"github.com/SaharshLaud/rudp-go/pkg/utils/timer"
)

// Receiver 接收端传输循环
// 主动发送传输请求建立通信，之后轮询接收数据段，按序重组写入下游，
// 对每个到达的段回送确认。观察到结束标记且数据齐全后补发确认并退出
type Receiver struct {
	ep     Endpoint
	asm    *Reassembler
	params Params

	recvBuf []byte
	first   []byte    // 握手期间收到的首个数据报，主循环优先处理
	started time.Time
	stats   Stats
}

// NewReceiver 创建接收端，重组后的字节流写入sink
func NewReceiver(ep Endpoint, sink io.Writer, params Params) (*Receiver, error) {
	if ep == nil || sink == nil {
		return nil, errors.New("endpoint and sink are required")
	}
	return &Receiver{
		ep:      ep,
		asm:     NewReassembler(sink),
		params:  params.withDefaults(),
		recvBuf: make([]byte, MaxDatagram),
	}, nil
}

// Run 执行完整传输，返回前关闭端点
func (r *Receiver) Run(ctx context.Context) error {
	defer r.ep.Close()
	r.started = time.Now()

	if err := r.connect(ctx); err != nil {
		return err
	}

	if r.first != nil {
		if err := r.handleDatagram(r.first); err != nil {
			return err
		}
		r.first = nil
	}

	idle := 0
	lastReport := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		got, err := r.drainSegments()
		if err != nil {
			return err
		}
		if r.asm.Complete() {
			return r.finish()
		}
		if got > 0 {
			idle = 0
		} else {
			idle++
			if idle >= r.params.MaxIdleIters {
				return errors.Wrapf(ErrTransferIncomplete, "no data after %d polls", idle)
			}
		}

		if time.Since(lastReport) >= time.Second {
			s := r.Progress()
			logger.Info("progress",
				logger.Uint64("delivered", s.BytesDone),
				logger.Int("pending", s.Pending))
			lastReport = time.Now()
		}
	}
}

// 发送传输请求并等待对端首个数据报，等待超时则重发请求
func (r *Receiver) connect(ctx context.Context) error {
	request := []byte(RequestMessage)
	r.ep.SetRecvTimeout(r.params.PollTimeout)

	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.ep.Send(request); err != nil {
			return errors.Wrap(err, "send request")
		}
		atomic.AddUint64(&r.stats.PacketsSent, 1)
		atomic.AddUint64(&r.stats.BytesSent, uint64(len(request)))

		deadline := time.Now().Add(r.params.RetryTimeout)
		for time.Now().Before(deadline) {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := r.ep.Recv(r.recvBuf)
			if err != nil {
				if IsTimeout(err) {
					continue
				}
				return errors.Wrap(err, "receive")
			}
			atomic.AddUint64(&r.stats.PacketsReceived, 1)
			atomic.AddUint64(&r.stats.BytesReceived, uint64(n))
			r.first = append([]byte(nil), r.recvBuf[:n]...)
			return nil
		}
		return errors.New("request timed out")
	}

	if err := timer.Retry(r.params.MaxRetries, 0, attempt); err != nil {
		// 上下文取消不算连接失败
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return errors.Wrapf(ErrConnectionFailed, "%v", err)
	}
	logger.Info("connected", logger.String("server", addrString(r.ep.RemoteAddr())))
	return nil
}

// 批量接收数据段，收完批次上限或等待超时为止，返回本轮收到的数据报数
func (r *Receiver) drainSegments() (int, error) {
	got := 0
	for got < r.params.RecvBatch {
		n, err := r.ep.Recv(r.recvBuf)
		if err != nil {
			if IsTimeout(err) {
				return got, nil
			}
			return got, errors.Wrap(err, "receive segment")
		}
		got++
		atomic.AddUint64(&r.stats.PacketsReceived, 1)
		atomic.AddUint64(&r.stats.BytesReceived, uint64(n))

		if err := r.handleDatagram(r.recvBuf[:n]); err != nil {
			return got, err
		}
	}
	return got, nil
}

// 处理一个数据段：提交重组器并回送当前状态的确认
func (r *Receiver) handleDatagram(datagram []byte) error {
	seq, payload, err := DecodeData(datagram)
	if err != nil {
		atomic.AddUint64(&r.stats.MalformedDrops, 1)
		return nil
	}

	res, err := r.asm.Offer(seq, payload)
	if err != nil {
		return err
	}
	switch res {
	case OfferBuffered:
		atomic.AddUint64(&r.stats.OutOfOrderBuffered, 1)
	case OfferDuplicate:
		atomic.AddUint64(&r.stats.DuplicateSegments, 1)
	}

	r.sendAck()
	return nil
}

func (r *Receiver) sendAck() {
	datagram := EncodeAck(r.asm.Ack())
	if err := r.ep.Send(datagram); err != nil {
		logger.Warn("send ack failed", logger.Err(err))
		return
	}
	atomic.AddUint64(&r.stats.PacketsSent, 1)
	atomic.AddUint64(&r.stats.BytesSent, uint64(len(datagram)))
}

// 传输完成：补发若干确认后退出
func (r *Receiver) finish() error {
	for i := 0; i < r.params.TerminalAcks; i++ {
		r.sendAck()
	}
	logger.Info("transfer complete",
		logger.Uint64("bytes", r.asm.BytesWritten()),
		logger.Duration("elapsed", time.Since(r.started)))
	return nil
}

// Stats 获取统计快照
func (r *Receiver) Stats() Stats {
	return r.stats.snapshot()
}

// Progress 获取进度快照，总字节数在观察到结束标记前为0
func (r *Receiver) Progress() ProgressInfo {
	info := ProgressInfo{
		BytesDone: r.asm.BytesWritten(),
		Pending:   r.asm.PendingCount(),
	}
	if total, ok := r.asm.EOFSeq(); ok {
		info.BytesTotal = uint64(total)
	}
	return info
}
