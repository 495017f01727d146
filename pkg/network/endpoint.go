package network

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// UDPEndpoint 基于UDP套接字的数据报端点
// 服务模式下首个到达的数据报确定对端地址，此后只与该对端通信，
// 其他来源的数据报被忽略；客户模式下对端地址在创建时固定
type UDPEndpoint struct {
	mu      sync.Mutex
	conn    net.PacketConn
	remote  net.Addr
	timeout time.Duration
	closed  bool
}

// Listen 创建服务模式端点，绑定addr等待对端上门
func Listen(addr string) (*UDPEndpoint, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen udp %s", addr)
	}
	return &UDPEndpoint{conn: conn}, nil
}

// Dial 创建客户模式端点，对端地址固定为server
func Dial(server string) (*UDPEndpoint, error) {
	remote, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", server)
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, errors.Wrap(err, "open udp socket")
	}
	return &UDPEndpoint{conn: conn, remote: remote}, nil
}

// Send 向对端发送一个数据报
func (e *UDPEndpoint) Send(datagram []byte) error {
	e.mu.Lock()
	conn, remote, closed := e.conn, e.remote, e.closed
	e.mu.Unlock()

	if closed {
		return errors.New("endpoint closed")
	}
	if remote == nil {
		return errors.New("remote address not determined")
	}
	if _, err := conn.WriteTo(datagram, remote); err != nil {
		return errors.Wrap(err, "send datagram")
	}
	return nil
}

// Recv 接收一个来自对端的数据报
// 超时错误原样返回，供调用方用超时判断函数识别
func (e *UDPEndpoint) Recv(buf []byte) (int, error) {
	for {
		e.mu.Lock()
		conn, timeout, closed := e.conn, e.timeout, e.closed
		e.mu.Unlock()

		if closed {
			return 0, errors.Wrap(net.ErrClosed, "receive datagram")
		}
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return 0, errors.Wrap(err, "set read deadline")
			}
		} else {
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				return 0, errors.Wrap(err, "set read deadline")
			}
		}

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, err
		}

		e.mu.Lock()
		if e.remote == nil {
			// 服务模式：首个数据报的来源即为对端
			e.remote = from
			e.mu.Unlock()
			return n, nil
		}
		matched := e.remote.String() == from.String()
		e.mu.Unlock()

		if !matched {
			continue
		}
		return n, nil
	}
}

// SetRecvTimeout 设置单次接收的等待上限，0或负值表示阻塞等待
func (e *UDPEndpoint) SetRecvTimeout(d time.Duration) {
	e.mu.Lock()
	e.timeout = d
	e.mu.Unlock()
}

// LocalAddr 获取本端地址
func (e *UDPEndpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// RemoteAddr 获取对端地址，尚未确定时返回nil
func (e *UDPEndpoint) RemoteAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.remote
}

// Close 关闭端点，可重复调用
func (e *UDPEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.conn.Close()
}
