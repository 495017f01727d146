package rudp

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Endpoint 数据报收发端点
// 传输循环通过该接口与网络交互，每次Send/Recv对应一个完整数据报
type Endpoint interface {
	// Send 向对端发送一个数据报，对端尚未确定时返回错误
	Send(datagram []byte) error
	// Recv 接收一个数据报到buf，返回实际长度
	// 超过接收超时仍无数据时返回超时错误，可用IsTimeout判断
	Recv(buf []byte) (int, error)
	// SetRecvTimeout 设置单次接收的等待上限，0或负值表示阻塞等待
	SetRecvTimeout(d time.Duration)
	// LocalAddr 获取本端地址
	LocalAddr() net.Addr
	// RemoteAddr 获取对端地址，尚未确定时返回nil
	RemoteAddr() net.Addr
	// Close 关闭端点，可重复调用
	Close() error
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}

// IsTimeout 判断接收错误是否为等待超时
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return false
}
