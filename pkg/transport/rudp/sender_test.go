package rudp

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaharshLaud/rudp-go/pkg/transport/congestion"
)

// 只记录发送内容的端点桩，接收恒为超时
type stubEndpoint struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *stubEndpoint) Send(datagram []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), datagram...))
	return nil
}

func (s *stubEndpoint) Recv(buf []byte) (int, error) { return 0, os.ErrDeadlineExceeded }
func (s *stubEndpoint) SetRecvTimeout(time.Duration) {}
func (s *stubEndpoint) LocalAddr() net.Addr          { return pipeAddr("stub") }
func (s *stubEndpoint) RemoteAddr() net.Addr         { return nil }
func (s *stubEndpoint) Close() error                 { return nil }

func (s *stubEndpoint) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *stubEndpoint) lastSeq(t *testing.T) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	seq, _, err := DecodeData(s.sent[len(s.sent)-1])
	require.NoError(t, err)
	return seq
}

func newTestSender(t *testing.T, ep Endpoint, ctrl congestion.Controller, payload []byte, params Params) *Sender {
	t.Helper()
	s, err := NewSender(ep, ctrl, payload, params)
	require.NoError(t, err)
	return s
}

func Test_Sender_Admission(t *testing.T) {
	ep := &stubEndpoint{}
	payload := testPayload(10 * 1180)
	s := newTestSender(t, ep, congestion.NewFixedWindowController(4), payload, Params{})

	// 窗口4段：首轮只允许4段在途
	s.admitSegments()
	assert.Equal(t, 4, ep.sentCount(), "发送量不应超过窗口")
	assert.Equal(t, 4, s.Progress().InFlight)

	// 窗口未释放时不再发送
	s.admitSegments()
	assert.Equal(t, 4, ep.sentCount())

	// 确认一段后窗口释放一段
	s.handleAck(Ack{Cumulative: 1180})
	s.admitSegments()
	assert.Equal(t, 5, ep.sentCount())
	assert.Equal(t, uint32(4*1180), ep.lastSeq(t))
}

func Test_Sender_BurstLimit(t *testing.T) {
	ep := &stubEndpoint{}
	params := Params{BurstLimit: 2}
	payload := testPayload(8 * 1180)
	s := newTestSender(t, ep, congestion.NewFixedWindowController(8), payload, params)

	// 单轮发送量受突发上限约束，多轮后补齐到窗口
	s.admitSegments()
	assert.Equal(t, 2, ep.sentCount(), "单轮发送不应超过突发上限")
	s.admitSegments()
	s.admitSegments()
	s.admitSegments()
	assert.Equal(t, 8, ep.sentCount())
}

func Test_Sender_WindowGrowth(t *testing.T) {
	ep := &stubEndpoint{}
	payload := testPayload(10 * 1180)
	s := newTestSender(t, ep, congestion.NewRenoController(32), payload, Params{})

	// 慢启动：初始窗口1段，确认后翻倍式增长
	s.admitSegments()
	assert.Equal(t, 1, ep.sentCount())

	s.handleAck(Ack{Cumulative: 1180})
	assert.Equal(t, 2, s.Progress().Cwnd)
	s.admitSegments()
	assert.Equal(t, 3, ep.sentCount(), "窗口增长后应补发新段")
}

func Test_Sender_FastRetransmit(t *testing.T) {
	ep := &stubEndpoint{}
	payload := testPayload(8 * 1180)
	s := newTestSender(t, ep, congestion.NewFixedWindowController(8), payload, Params{})
	s.admitSegments()
	require.Equal(t, 8, ep.sentCount())

	// 前两个重复确认不触发重传
	s.handleAck(Ack{Cumulative: 0})
	s.handleAck(Ack{Cumulative: 0})
	assert.Equal(t, 8, ep.sentCount())
	assert.Equal(t, uint64(0), s.Stats().FastRetransmits)

	// 第三个重复确认触发快速重传，重发确认偏移处的段
	s.handleAck(Ack{Cumulative: 0})
	assert.Equal(t, 9, ep.sentCount())
	assert.Equal(t, uint32(0), ep.lastSeq(t))
	assert.Equal(t, uint64(1), s.Stats().FastRetransmits)
	assert.Equal(t, uint64(3), s.Stats().DuplicateAcks)

	// 计数清零后再积累三次才会再次触发
	s.handleAck(Ack{Cumulative: 0})
	s.handleAck(Ack{Cumulative: 0})
	assert.Equal(t, uint64(1), s.Stats().FastRetransmits)
	s.handleAck(Ack{Cumulative: 0})
	assert.Equal(t, uint64(2), s.Stats().FastRetransmits)
}

func Test_Sender_InvalidAck(t *testing.T) {
	ep := &stubEndpoint{}
	payload := testPayload(4 * 1180)
	s := newTestSender(t, ep, congestion.NewFixedWindowController(4), payload, Params{})
	s.admitSegments()

	// 确认偏移超出已发送范围：整个确认被忽略，包括SACK块
	s.handleAck(Ack{
		Cumulative: 4*1180 + 1,
		Blocks:     [2]SackBlock{{Left: 1180, Right: 2360}},
	})
	assert.Equal(t, uint64(1), s.Stats().InvalidAcks)
	assert.Equal(t, uint64(0), s.Stats().SackedSegments, "非法确认的SACK块不应生效")
	assert.Equal(t, uint64(0), s.Progress().BytesDone)
}

func Test_Sender_SackMarking(t *testing.T) {
	ep := &stubEndpoint{}
	payload := testPayload(4 * 1180)
	s := newTestSender(t, ep, congestion.NewFixedWindowController(4), payload, Params{})
	s.admitSegments()

	s.handleAck(Ack{
		Cumulative: 0,
		Blocks:     [2]SackBlock{{Left: 1180, Right: 3540}},
	})
	assert.Equal(t, uint64(2), s.Stats().SackedSegments, "SACK区间内的段应被标记")

	// 相同区间重复上报不重复计数
	s.handleAck(Ack{
		Cumulative: 0,
		Blocks:     [2]SackBlock{{Left: 1180, Right: 3540}},
	})
	assert.Equal(t, uint64(2), s.Stats().SackedSegments)

	// 标记不触发重传
	assert.Equal(t, uint64(0), s.Stats().Retransmissions)
}

func Test_Sender_TimeoutScan(t *testing.T) {
	ep := &stubEndpoint{}
	params := Params{InitialRTO: 20 * time.Millisecond, MinRTO: 10 * time.Millisecond}
	payload := testPayload(4 * 1180)
	s := newTestSender(t, ep, congestion.NewFixedWindowController(4), payload, params)
	s.admitSegments()
	require.Equal(t, 4, ep.sentCount())

	// 超时前不重传
	s.checkTimeout()
	assert.Equal(t, 4, ep.sentCount())

	// 超时后单轮只重传最早的一段，且超时退避翻倍
	time.Sleep(25 * time.Millisecond)
	s.checkTimeout()
	assert.Equal(t, 5, ep.sentCount(), "单轮只应重传一段")
	assert.Equal(t, uint32(0), ep.lastSeq(t))
	assert.Equal(t, uint64(1), s.Stats().TimeoutRetransmits)
	assert.Equal(t, 40*time.Millisecond, s.Progress().RTO)
}

func Test_Sender_KarnRule(t *testing.T) {
	ep := &stubEndpoint{}
	params := Params{InitialRTO: 20 * time.Millisecond, MinRTO: 10 * time.Millisecond}
	payload := testPayload(2 * 1180)
	s := newTestSender(t, ep, congestion.NewFixedWindowController(1), payload, params)

	// 首段重传过：其确认不参与RTT采样
	s.admitSegments()
	time.Sleep(25 * time.Millisecond)
	s.checkTimeout()
	s.handleAck(Ack{Cumulative: 1180})
	assert.Equal(t, time.Duration(0), s.Progress().SRTT, "重传段的确认不应产生RTT样本")

	// 未重传的段正常采样
	s.admitSegments()
	s.handleAck(Ack{Cumulative: 2 * 1180})
	assert.Greater(t, s.Progress().SRTT, time.Duration(0))
}

func Test_Sender_PeerSilent(t *testing.T) {
	a, b := newPipe()
	params := Params{PollTimeout: time.Millisecond, MaxIdleIters: 20}
	payload := testPayload(4 * 1180)
	s := newTestSender(t, a, congestion.NewFixedWindowController(2), payload, params)

	// 对端只发起请求后失联：发送端应在空轮询上限后报告传输未完成
	require.NoError(t, b.Send([]byte(RequestMessage)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, ErrTransferIncomplete, "失联后应报告传输未完成")
}
