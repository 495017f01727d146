package rudp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_DataCodec(t *testing.T) {
	payload := []byte("hello world")
	datagram := EncodeData(1180, payload)
	assert.Equal(t, HeaderSize+len(payload), len(datagram))

	seq, got, err := DecodeData(datagram)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1180), seq)
	assert.Equal(t, payload, got)

	// 头部保留区置零
	for i := 4; i < HeaderSize; i++ {
		assert.Zero(t, datagram[i], "数据段保留区应为0")
	}
}

func Test_AckCodec(t *testing.T) {
	in := Ack{
		Cumulative: 2360,
		Blocks: [2]SackBlock{
			{Left: 4720, Right: 5900},
			{Left: 8260, Right: 9440},
		},
	}
	out, err := DecodeAck(EncodeAck(in))
	assert.NoError(t, err)
	assert.Equal(t, in, out)

	// 无SACK块时对应区域为全零，解析出的块无效
	bare, _ := DecodeAck(EncodeAck(Ack{Cumulative: 1180}))
	assert.Equal(t, uint32(1180), bare.Cumulative)
	assert.False(t, bare.Blocks[0].Valid())
	assert.False(t, bare.Blocks[1].Valid())
}

func Test_Decode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"空数据报", nil},
		{"不足头部长度", make([]byte, HeaderSize-1)},
		{"握手请求", []byte(RequestMessage)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeData(tt.data)
			assert.ErrorIs(t, err, ErrMalformedSegment)
			_, err = DecodeAck(tt.data)
			assert.ErrorIs(t, err, ErrMalformedSegment, "短报文不应被解析为确认")
		})
	}

	// 超过数据报上限
	_, _, err := DecodeData(make([]byte, MaxDatagram+1))
	assert.ErrorIs(t, err, ErrMalformedSegment)
}

func Test_SackBlock_Valid(t *testing.T) {
	tests := []struct {
		name  string
		block SackBlock
		want  bool
	}{
		{"正常区间", SackBlock{Left: 1180, Right: 2360}, true},
		{"左边界为0", SackBlock{Left: 0, Right: 2360}, false},
		{"右边界为0", SackBlock{Left: 1180, Right: 0}, false},
		{"空区间", SackBlock{Left: 1180, Right: 1180}, false},
		{"区间颠倒", SackBlock{Left: 2360, Right: 1180}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.block.Valid())
		})
	}
}

func Test_IsEOFPayload(t *testing.T) {
	assert.True(t, IsEOFPayload([]byte("EOF")))
	assert.False(t, IsEOFPayload([]byte("EO")))
	assert.False(t, IsEOFPayload([]byte("EOFF")))
	assert.False(t, IsEOFPayload(nil))
}
