// 提供网络接口信息查询，辅助公布本机可达地址并校验MTU
package network

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/SaharshLaud/rudp-go/pkg/utils/logger"
)

// IPv4头20字节加UDP头8字节
const udpOverhead = 28

// InterfaceInfo 网络接口概要
type InterfaceInfo struct {
	Name      string    // 接口名称（如eth0、lo等）
	Index     int       // 接口索引
	Flags     net.Flags // 接口标志
	Addresses []net.IP  // 接口关联的IP地址列表
	MTU       int       // 最大传输单元
}

// Manager 缓存本机网络接口信息并提供筛选查询
type Manager struct {
	mu sync.RWMutex

	interfaces map[string]*InterfaceInfo
	log        *logger.Logger
}

// NewManager 创建接口管理器并完成首次扫描
func NewManager() (*Manager, error) {
	m := &Manager{
		interfaces: make(map[string]*InterfaceInfo),
		log:        logger.Default(),
	}
	if err := m.Refresh(); err != nil {
		return nil, err
	}
	return m, nil
}

// Refresh 重新扫描本机接口，替换缓存
func (m *Manager) Refresh() error {
	interfaces, err := net.Interfaces()
	if err != nil {
		return errors.Wrap(err, "list interfaces")
	}

	scanned := make(map[string]*InterfaceInfo)
	for _, iface := range interfaces {
		info := &InterfaceInfo{
			Name:  iface.Name,
			Index: iface.Index,
			Flags: iface.Flags,
			MTU:   iface.MTU,
		}

		addrs, err := iface.Addrs()
		if err != nil {
			m.log.Warn("list interface addrs failed",
				logger.String("interface", iface.Name),
				logger.Err(err))
			continue
		}
		for _, addr := range addrs {
			switch v := addr.(type) {
			case *net.IPNet:
				info.Addresses = append(info.Addresses, v.IP)
			case *net.IPAddr:
				info.Addresses = append(info.Addresses, v.IP)
			}
		}
		scanned[iface.Name] = info
	}

	m.mu.Lock()
	m.interfaces = scanned
	m.mu.Unlock()

	m.log.Debug("interfaces scanned", logger.Int("count", len(scanned)))
	return nil
}

// Interfaces 返回所有接口信息
func (m *Manager) Interfaces() []InterfaceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]InterfaceInfo, 0, len(m.interfaces))
	for _, iface := range m.interfaces {
		out = append(out, *iface)
	}
	return out
}

// ActiveInterfaces 返回已启用且配有地址的接口
func (m *Manager) ActiveInterfaces() []InterfaceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]InterfaceInfo, 0)
	for _, iface := range m.interfaces {
		if iface.Flags&net.FlagUp != 0 && len(iface.Addresses) > 0 {
			active = append(active, *iface)
		}
	}
	return active
}

// AdvertisedIPs 返回可公布给对端的本机地址，IPv4在前
// 只取启用接口上的非回环、非链路本地地址
func (m *Manager) AdvertisedIPs() []net.IP {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var v4, v6 []net.IP
	for _, iface := range m.interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, addr := range iface.Addresses {
			if addr.IsLoopback() || addr.IsLinkLocalUnicast() {
				continue
			}
			if addr.To4() != nil {
				v4 = append(v4, addr)
			} else {
				v6 = append(v6, addr)
			}
		}
	}
	return append(v4, v6...)
}

// SmallMTUInterfaces 返回MTU不足以承载指定UDP负载的启用接口名称
// datagramLen为UDP负载长度，链路上还需叠加IP与UDP头
func (m *Manager) SmallMTUInterfaces(datagramLen int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var small []string
	for _, iface := range m.interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.MTU > 0 && iface.MTU < datagramLen+udpOverhead {
			small = append(small, iface.Name)
		}
	}
	return small
}
