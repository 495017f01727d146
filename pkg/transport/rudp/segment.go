// 可靠UDP传输协议核心包
// 报文格式（20字节定长头部 + 可变载荷，单个数据报不超过1200字节）:
//
//	数据段: [0:4]=段序号(大端,字节偏移) [4:20]=保留置零 [20:]=载荷
//	确认段: [0:4]=累计确认 [4:8]=SACK1左边界 [8:12]=SACK1右边界
//	        [12:16]=SACK2左边界 [16:20]=SACK2右边界
//
// SACK边界为字节偏移，右边界为开区间；任一边界为0或右边界不大于
// 左边界时该块视为空。握手请求为5字节固定内容，短于头部长度，
// 因此迟到的握手报文永远不会被误解析为确认段。
package rudp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// HeaderSize 报文头部长度（字节）
	HeaderSize = 20
	// MaxDatagram 单个数据报最大长度（字节）
	MaxDatagram = 1200
	// MaxData 单段最大载荷长度（字节）
	MaxData = MaxDatagram - HeaderSize

	// EOFMarker 传输结束标记载荷
	EOFMarker = "EOF"
	// RequestMessage 接收端握手请求内容
	RequestMessage = "START"
)

var (
	// ErrMalformedSegment 数据报长度不足头部或超过上限
	ErrMalformedSegment = errors.New("malformed segment")
	// ErrConnectionFailed 握手阶段未能建立通信
	ErrConnectionFailed = errors.New("connection failed")
	// ErrTransferIncomplete 传输在完成前中止
	ErrTransferIncomplete = errors.New("transfer incomplete")
)

// SackBlock 选择确认块，标识一段已收到的连续字节区间 [Left, Right)
type SackBlock struct {
	Left  uint32
	Right uint32
}

// Valid 判断SACK块是否携带有效区间
func (b SackBlock) Valid() bool {
	return b.Left != 0 && b.Right != 0 && b.Right > b.Left
}

// Ack 确认信息：累计确认偏移与至多两个选择确认块
type Ack struct {
	Cumulative uint32
	Blocks     [2]SackBlock
}

// EncodeData 编码数据段，seq为载荷首字节的传输偏移
func EncodeData(seq uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], seq)
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeData 解析数据段，返回段序号与载荷
// 载荷切片直接引用传入数据报，调用方复用缓冲区前需自行拷贝
func DecodeData(datagram []byte) (uint32, []byte, error) {
	if len(datagram) < HeaderSize || len(datagram) > MaxDatagram {
		return 0, nil, ErrMalformedSegment
	}
	seq := binary.BigEndian.Uint32(datagram[0:4])
	return seq, datagram[HeaderSize:], nil
}

// EncodeAck 编码确认段
func EncodeAck(ack Ack) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], ack.Cumulative)
	binary.BigEndian.PutUint32(buf[4:8], ack.Blocks[0].Left)
	binary.BigEndian.PutUint32(buf[8:12], ack.Blocks[0].Right)
	binary.BigEndian.PutUint32(buf[12:16], ack.Blocks[1].Left)
	binary.BigEndian.PutUint32(buf[16:20], ack.Blocks[1].Right)
	return buf
}

// DecodeAck 解析确认段
func DecodeAck(datagram []byte) (Ack, error) {
	if len(datagram) < HeaderSize {
		return Ack{}, ErrMalformedSegment
	}
	return Ack{
		Cumulative: binary.BigEndian.Uint32(datagram[0:4]),
		Blocks: [2]SackBlock{
			{
				Left:  binary.BigEndian.Uint32(datagram[4:8]),
				Right: binary.BigEndian.Uint32(datagram[8:12]),
			},
			{
				Left:  binary.BigEndian.Uint32(datagram[12:16]),
				Right: binary.BigEndian.Uint32(datagram[16:20]),
			},
		},
	}, nil
}

// IsEOFPayload 判断载荷是否为传输结束标记
func IsEOFPayload(payload []byte) bool {
	return len(payload) == len(EOFMarker) && string(payload) == EOFMarker
}
