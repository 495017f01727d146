package rudp

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func Test_Reassembler_InOrder(t *testing.T) {
	var sink bytes.Buffer
	r := NewReassembler(&sink)

	res, err := r.Offer(0, []byte("aaaa"))
	assert.NoError(t, err)
	assert.Equal(t, OfferAdvanced, res)
	res, _ = r.Offer(4, []byte("bbbb"))
	assert.Equal(t, OfferAdvanced, res)

	assert.Equal(t, "aaaabbbb", sink.String(), "按序段应依次写入下游")
	assert.Equal(t, uint32(8), r.Expected())
	assert.Equal(t, uint64(8), r.BytesWritten())
	assert.Equal(t, uint32(8), r.Ack().Cumulative)
}

func Test_Reassembler_OutOfOrder(t *testing.T) {
	var sink bytes.Buffer
	r := NewReassembler(&sink)

	// 乱序段先到：暂存且不写入
	res, err := r.Offer(4, []byte("bbbb"))
	assert.NoError(t, err)
	assert.Equal(t, OfferBuffered, res)
	assert.Equal(t, "", sink.String())
	assert.Equal(t, 1, r.PendingCount())

	// 缺口补齐后连同暂存段一起交付
	res, _ = r.Offer(0, []byte("aaaa"))
	assert.Equal(t, OfferAdvanced, res)
	assert.Equal(t, "aaaabbbb", sink.String(), "补齐缺口后应排空暂存区")
	assert.Equal(t, uint32(8), r.Expected())
	assert.Equal(t, 0, r.PendingCount())
}

func Test_Reassembler_Duplicate(t *testing.T) {
	var sink bytes.Buffer
	r := NewReassembler(&sink)

	r.Offer(0, []byte("aaaa"))
	res, _ := r.Offer(0, []byte("aaaa"))
	assert.Equal(t, OfferDuplicate, res, "已交付的段应计为重复")

	// 暂存区内的重复段：保留首个到达的内容
	r.Offer(8, []byte("cccc"))
	res, _ = r.Offer(8, []byte("XXXX"))
	assert.Equal(t, OfferDuplicate, res, "已暂存的段应计为重复")

	r.Offer(4, []byte("bbbb"))
	assert.Equal(t, "aaaabbbbcccc", sink.String(), "重复段不应覆盖首个到达的内容")
}

func Test_Reassembler_CopiesPayload(t *testing.T) {
	var sink bytes.Buffer
	r := NewReassembler(&sink)

	// 模拟接收缓冲区复用：暂存后修改原缓冲区
	buf := []byte("bbbb")
	r.Offer(4, buf)
	copy(buf, "ZZZZ")

	r.Offer(0, []byte("aaaa"))
	assert.Equal(t, "aaaabbbb", sink.String(), "暂存段应持有载荷副本")
}

func Test_Reassembler_Ack(t *testing.T) {
	var sink bytes.Buffer
	r := NewReassembler(&sink)

	r.Offer(4, []byte("bbbb"))
	r.Offer(8, []byte("cccc"))
	r.Offer(16, []byte("eeee"))
	r.Offer(20, []byte("ffff"))
	r.Offer(28, []byte("hhhh"))

	ack := r.Ack()
	assert.Equal(t, uint32(0), ack.Cumulative)
	// 相邻段合并为连续区间，按偏移从低到高最多上报两个
	assert.Equal(t, SackBlock{Left: 4, Right: 12}, ack.Blocks[0])
	assert.Equal(t, SackBlock{Left: 16, Right: 24}, ack.Blocks[1])
	assert.True(t, ack.Blocks[0].Valid())
	assert.True(t, ack.Blocks[1].Valid())

	// 无暂存段时SACK块为空
	assert.False(t, NewReassembler(&sink).Ack().Blocks[0].Valid())
}

func Test_Reassembler_EOF(t *testing.T) {
	var sink bytes.Buffer
	r := NewReassembler(&sink)

	// 结束标记先于数据到达：只记录位置，不暂存不写入
	res, err := r.Offer(8, []byte(EOFMarker))
	assert.NoError(t, err)
	assert.Equal(t, OfferEOF, res)
	assert.False(t, r.Complete(), "数据未齐时不应判定完成")
	assert.Equal(t, 0, r.PendingCount(), "结束标记不应占用暂存区")

	r.Offer(0, []byte("aaaa"))
	r.Offer(4, []byte("bbbb"))
	assert.True(t, r.Complete(), "交付偏移到达结束位置后应判定完成")
	assert.Equal(t, "aaaabbbb", sink.String(), "结束标记不应写入下游")

	// 重复的结束标记不改变状态
	res, _ = r.Offer(8, []byte(EOFMarker))
	assert.Equal(t, OfferEOF, res)
	assert.True(t, r.Complete())
}

func Test_Reassembler_EmptyTransfer(t *testing.T) {
	var sink bytes.Buffer
	r := NewReassembler(&sink)

	// 空文件：结束标记位于偏移0，立即完成
	res, _ := r.Offer(0, []byte(EOFMarker))
	assert.Equal(t, OfferEOF, res)
	assert.True(t, r.Complete())
	assert.Equal(t, uint64(0), r.BytesWritten())
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func Test_Reassembler_SinkError(t *testing.T) {
	r := NewReassembler(failWriter{})
	_, err := r.Offer(0, []byte("aaaa"))
	assert.Error(t, err, "下游写入失败应向上返回")
}
