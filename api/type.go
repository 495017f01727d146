// 公共API类型
package api

import (
	"time"
)

// 端点角色
type Role uint8

const (
	RoleSender   Role = 1 // 发送端：绑定本地地址，等待接收端请求后推送文件
	RoleReceiver Role = 2 // 接收端：向发送端发起请求，接收并重组数据
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// 传输模式（窗口策略）
type Mode uint8

const (
	ModeFixed Mode = 1 // 固定窗口：窗口大小由配置指定，不随网络状况调整
	ModeReno  Mode = 2 // Reno拥塞控制：慢启动/拥塞避免动态调整窗口
)

func (m Mode) String() string {
	switch m {
	case ModeFixed:
		return "fixed"
	case ModeReno:
		return "reno"
	default:
		return "unknown"
	}
}

// ParseMode 解析模式字符串（命令行/配置文件输入）
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "fixed":
		return ModeFixed, true
	case "reno":
		return ModeReno, true
	default:
		return 0, false
	}
}

// 传输参数（协议时序与批量上限，零值字段在服务初始化时补为默认值）
type TransferSettings struct {
	MSS          int           // 单段最大负载字节数
	PollTimeout  time.Duration // 轮询接收超时（需小于10ms）
	InitialRTO   time.Duration // 首个RTT样本前的重传超时
	MinRTO       time.Duration // 重传超时下限
	MaxRTO       time.Duration // 重传超时上限
	RTOScale     int           // RTO计算中偏差项的倍数k（4-6）
	MaxRetries   int           // 连接请求最大尝试次数
	RetryTimeout time.Duration // 每次连接尝试的等待时间
	BurstLimit   int           // 每轮循环新发送段数上限
	AckBatch     int           // 每轮循环处理确认数上限
	RecvBatch    int           // 每轮循环处理数据段数上限
	EOFRepeat    int           // 结束标记重复发送次数
	EOFInterval  time.Duration // 结束标记发送间隔
	TerminalAcks int           // 传输完成后补发的终态确认次数
	MaxIdleIters int           // 连续空接收轮次上限（失速判定）
}

// 服务主配置
type Config struct {
	Role           Role             // 端点角色
	ListenAddr     string           // 发送端监听地址（如":9000"）
	ServerAddr     string           // 接收端的目标发送端地址（如"10.0.0.1:9000"）
	FilePath       string           // 发送端待传输文件路径
	OutputPath     string           // 接收端输出文件路径
	Mode           Mode             // 窗口策略
	WindowSegments int              // 固定窗口模式的窗口大小（单位：段）
	Ssthresh       int              // Reno模式的初始慢启动阈值（单位：段）
	Transfer       TransferSettings // 协议细粒度参数
	LogLevel       string           // 日志级别
	EnableDump     bool             // 是否允许导出运行状态
}

// 传输进度（回调上报）
type Progress struct {
	Role       Role
	BytesTotal uint64        // 发送端已知的总字节数（接收端在观察到EOF前为0）
	BytesDone  uint64        // 发送端=已确认字节数；接收端=已按序落盘字节数
	Percent    float64       // 完成百分比（接收端总量未知时为0）
	Throughput float64       // 平均吞吐（字节/秒）
	Cwnd       float64       // 当前拥塞窗口（单位：段，仅发送端有效）
	RTO        time.Duration // 当前重传超时（仅发送端有效）
	Elapsed    time.Duration // 已运行时长
}

// 运行时统计
type Statistics struct {
	PacketsSent        uint64        // 发送数据报数
	PacketsReceived    uint64        // 接收数据报数
	BytesSent          uint64        // 发送字节数（含协议头）
	BytesReceived      uint64        // 接收字节数（含协议头）
	BytesDelivered     uint64        // 按序交付的负载字节数（接收端）
	Retransmissions    uint64        // 重传总次数
	FastRetransmits    uint64        // 快速重传次数
	TimeoutRetransmits uint64        // 超时重传次数
	DuplicateAcks      uint64        // 收到的重复确认数
	InvalidAcks        uint64        // 无效确认数（确认号超出已发送范围）
	MalformedDrops     uint64        // 丢弃的畸形数据报数
	SackedSegments     uint64        // 被SACK块覆盖的在途段数
	DuplicateSegments  uint64        // 重复到达的数据段数
	OutOfOrderBuffered uint64        // 乱序缓存过的数据段数
	SRTT               time.Duration // 平滑往返时间（发送端）
	Duration           time.Duration // 传输耗时
	Throughput         float64       // 平均吞吐（字节/秒）
}

// 事件回调
type Callbacks struct {
	OnProgress func(p *Progress)   // 周期性进度上报
	OnComplete func(s *Statistics) // 传输成功完成
	OnError    func(err error)     // 传输失败（连接失败/失速/IO错误）
}

// 服务接口
type Service interface {
	// 生命周期管理
	Init(config *Config) error
	Start() error
	Stop() error
	Destroy()

	// Wait 阻塞等待传输结束，返回传输结果
	Wait() error

	// 统计和监控
	GetStatistics() (*Statistics, error)
	DumpState() (string, error)

	// 回调注册
	RegisterCallbacks(callbacks *Callbacks)
}
