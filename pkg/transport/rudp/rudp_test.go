package rudp

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaharshLaud/rudp-go/pkg/transport/congestion"
)

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

// 测试用内存数据报通道：互为对端的端点对，可注入丢包与乱序
type pipeEndpoint struct {
	mu      sync.Mutex
	name    string
	peer    *pipeEndpoint
	inbox   chan []byte
	done    chan struct{}
	closed  bool
	timeout time.Duration
	dropFn  func([]byte) bool // 返回true表示丢弃该数据报
}

func newPipe() (*pipeEndpoint, *pipeEndpoint) {
	a := &pipeEndpoint{name: "pipe-a", inbox: make(chan []byte, 4096), done: make(chan struct{})}
	b := &pipeEndpoint{name: "pipe-b", inbox: make(chan []byte, 4096), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEndpoint) setDrop(fn func([]byte) bool) {
	p.mu.Lock()
	p.dropFn = fn
	p.mu.Unlock()
}

func (p *pipeEndpoint) Send(datagram []byte) error {
	p.mu.Lock()
	closed, drop := p.closed, p.dropFn
	p.mu.Unlock()

	if closed {
		return errors.New("endpoint closed")
	}
	if drop != nil && drop(datagram) {
		return nil
	}
	p.deliver(datagram)
	return nil
}

// deliver 直接投递到对端收件箱，绕过丢包注入；收件箱满时丢弃
func (p *pipeEndpoint) deliver(datagram []byte) {
	buf := append([]byte(nil), datagram...)
	select {
	case p.peer.inbox <- buf:
	default:
	}
}

func (p *pipeEndpoint) Recv(buf []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()
	if timeout <= 0 {
		timeout = time.Hour
	}

	tm := time.NewTimer(timeout)
	defer tm.Stop()
	select {
	case data := <-p.inbox:
		return copy(buf, data), nil
	case <-p.done:
		return 0, errors.New("endpoint closed")
	case <-tm.C:
		return 0, os.ErrDeadlineExceeded
	}
}

func (p *pipeEndpoint) SetRecvTimeout(d time.Duration) {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
}

func (p *pipeEndpoint) LocalAddr() net.Addr  { return pipeAddr(p.name) }
func (p *pipeEndpoint) RemoteAddr() net.Addr { return pipeAddr(p.peer.name) }

func (p *pipeEndpoint) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func testPayload(n int) []byte {
	buf := make([]byte, n)
	rand.New(rand.NewSource(1)).Read(buf)
	return buf
}

func matchSeq(seq uint32) func([]byte) bool {
	return func(d []byte) bool {
		got, payload, err := DecodeData(d)
		return err == nil && got == seq && !IsEOFPayload(payload)
	}
}

func matchEOF(d []byte) bool {
	_, payload, err := DecodeData(d)
	return err == nil && IsEOFPayload(payload)
}

// dropOnce 只丢弃首个匹配的数据报
func dropOnce(match func([]byte) bool) func([]byte) bool {
	var mu sync.Mutex
	dropped := false
	return func(d []byte) bool {
		mu.Lock()
		defer mu.Unlock()
		if dropped || !match(d) {
			return false
		}
		dropped = true
		return true
	}
}

// duplicateOnce 首个匹配的数据报额外投递一份
func duplicateOnce(ep *pipeEndpoint, match func([]byte) bool) {
	var mu sync.Mutex
	done := false
	ep.setDrop(func(d []byte) bool {
		mu.Lock()
		defer mu.Unlock()
		if !done && match(d) {
			done = true
			ep.deliver(d)
		}
		return false
	})
}

// reorderOnce 扣留首个匹配的数据报，放行后续一个数据报后再补投
func reorderOnce(ep *pipeEndpoint, match func([]byte) bool) {
	var mu sync.Mutex
	var held []byte
	done := false
	ep.setDrop(func(d []byte) bool {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return false
		}
		if held == nil {
			if match(d) {
				held = append([]byte(nil), d...)
				return true
			}
			return false
		}
		h := held
		held = nil
		done = true
		go func() {
			time.Sleep(2 * time.Millisecond)
			ep.deliver(h)
		}()
		return false
	})
}

// runTransfer 在内存通道上执行一次完整传输，两端均应正常退出
func runTransfer(t *testing.T, payload []byte, ctrl congestion.Controller, params Params, a, b *pipeEndpoint) (*Sender, *Receiver, *bytes.Buffer) {
	t.Helper()

	s, err := NewSender(a, ctrl, payload, params)
	require.NoError(t, err)
	var sink bytes.Buffer
	r, err := NewReceiver(b, &sink, params)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- s.Run(ctx) }()
	go func() { errCh <- r.Run(ctx) }()
	require.NoError(t, <-errCh, "一端异常退出")
	require.NoError(t, <-errCh, "一端异常退出")
	return s, r, &sink
}

func Test_Transfer_Reno(t *testing.T) {
	payload := testPayload(512 * 1024)
	a, b := newPipe()

	s, r, sink := runTransfer(t, payload, congestion.NewRenoController(32), Params{}, a, b)

	assert.Equal(t, payload, sink.Bytes(), "接收内容应与发送内容一致")
	assert.Equal(t, uint64(len(payload)), r.Progress().BytesDone)
	assert.Equal(t, uint64(0), s.Stats().InvalidAcks)
	assert.Equal(t, uint64(len(payload)), s.Progress().BytesDone, "全部数据应被确认")
}

func Test_Transfer_FixedWindow(t *testing.T) {
	payload := testPayload(64 * 1024)
	a, b := newPipe()

	_, r, sink := runTransfer(t, payload, congestion.NewFixedWindowController(16), Params{}, a, b)

	assert.Equal(t, payload, sink.Bytes())
	assert.Equal(t, uint64(len(payload)), r.Progress().BytesDone)
}

func Test_Transfer_FastRetransmit(t *testing.T) {
	payload := testPayload(16 * 1180)
	a, b := newPipe()
	// 丢弃第二个数据段的首次发送，后续段的重复确认触发快速重传
	a.setDrop(dropOnce(matchSeq(1180)))

	s, _, sink := runTransfer(t, payload, congestion.NewFixedWindowController(8), Params{}, a, b)

	assert.Equal(t, payload, sink.Bytes(), "丢包后内容仍应完整")
	assert.GreaterOrEqual(t, s.Stats().DuplicateAcks, uint64(3))
	assert.GreaterOrEqual(t, s.Stats().FastRetransmits, uint64(1), "应通过快速重传恢复")
}

func Test_Transfer_TimeoutRecovery(t *testing.T) {
	payload := testPayload(4 * 1180)
	a, b := newPipe()
	// 窗口为1段且首段丢失：无重复确认可用，只能依靠超时重传
	a.setDrop(dropOnce(matchSeq(0)))
	params := Params{InitialRTO: 30 * time.Millisecond, MinRTO: 20 * time.Millisecond}

	s, _, sink := runTransfer(t, payload, congestion.NewFixedWindowController(1), params, a, b)

	assert.Equal(t, payload, sink.Bytes())
	assert.GreaterOrEqual(t, s.Stats().TimeoutRetransmits, uint64(1), "应通过超时重传恢复")
}

func Test_Transfer_Reordered(t *testing.T) {
	payload := testPayload(16 * 1180)
	a, b := newPipe()
	reorderOnce(a, matchSeq(1180))

	s, r, sink := runTransfer(t, payload, congestion.NewFixedWindowController(8), Params{}, a, b)

	assert.Equal(t, payload, sink.Bytes(), "乱序到达不应破坏交付顺序")
	assert.GreaterOrEqual(t, r.Stats().OutOfOrderBuffered, uint64(1), "乱序段应被暂存")
	assert.GreaterOrEqual(t, s.Stats().SackedSegments, uint64(1), "确认应携带选择确认块")
}

func Test_Transfer_DuplicatedSegment(t *testing.T) {
	payload := testPayload(8 * 1180)
	a, b := newPipe()
	duplicateOnce(a, matchSeq(2360))

	_, r, sink := runTransfer(t, payload, congestion.NewFixedWindowController(8), Params{}, a, b)

	assert.Equal(t, payload, sink.Bytes(), "重复段不应被重复交付")
	assert.GreaterOrEqual(t, r.Stats().DuplicateSegments, uint64(1))
}

func Test_Transfer_LostEOF(t *testing.T) {
	payload := testPayload(4 * 1180)
	a, b := newPipe()
	// 首个结束标记丢失，依靠后续重复的结束标记完成
	a.setDrop(dropOnce(matchEOF))

	_, r, sink := runTransfer(t, payload, congestion.NewFixedWindowController(8), Params{}, a, b)

	assert.Equal(t, payload, sink.Bytes())
	assert.Equal(t, uint64(len(payload)), r.Progress().BytesDone)
}

func Test_Transfer_HandshakeRetry(t *testing.T) {
	payload := testPayload(2 * 1180)
	a, b := newPipe()
	// 首个传输请求丢失，等待超时后重发
	b.setDrop(dropOnce(func(d []byte) bool { return len(d) == len(RequestMessage) }))
	params := Params{RetryTimeout: 50 * time.Millisecond}

	_, _, sink := runTransfer(t, payload, congestion.NewRenoController(32), params, a, b)

	assert.Equal(t, payload, sink.Bytes(), "请求重发后传输应正常完成")
}

func Test_Transfer_Empty(t *testing.T) {
	a, b := newPipe()

	_, r, sink := runTransfer(t, nil, congestion.NewRenoController(32), Params{}, a, b)

	assert.Zero(t, sink.Len(), "空传输不应写入任何数据")
	assert.Equal(t, uint64(0), r.Progress().BytesDone)
	assert.Equal(t, uint64(0), r.Progress().BytesTotal)
}

func Test_Transfer_PartialTail(t *testing.T) {
	// 末段不足单段上限
	payload := testPayload(2*1180 + 137)
	a, b := newPipe()

	_, _, sink := runTransfer(t, payload, congestion.NewRenoController(32), Params{}, a, b)

	assert.Equal(t, payload, sink.Bytes())
}
