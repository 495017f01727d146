// Package transfer 实现文件传输服务，整合网络端点、传输循环、统计上报与回调分发
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/SaharshLaud/rudp-go/api"
	"github.com/SaharshLaud/rudp-go/pkg/network"
	"github.com/SaharshLaud/rudp-go/pkg/transport/congestion"
	"github.com/SaharshLaud/rudp-go/pkg/transport/rudp"
	"github.com/SaharshLaud/rudp-go/pkg/utils/logger"
	"github.com/SaharshLaud/rudp-go/pkg/utils/timer"
)

// 窗口策略默认值（单位：段）
const (
	DefaultWindowSegments = 16 // 固定窗口模式的窗口大小
	DefaultSsthresh       = 32 // Reno模式的初始慢启动阈值
)

// 进度回调上报周期
const progressInterval = time.Second

// 发送端与接收端传输循环的公共视图
type runner interface {
	Run(ctx context.Context) error
	Stats() rudp.Stats
	Progress() rudp.ProgressInfo
}

// TransferService 文件传输核心服务，管理服务全生命周期与核心组件
type TransferService struct {
	mu sync.RWMutex

	// Configuration 服务配置（角色、地址、文件路径、窗口策略等）
	config *api.Config

	// Core components 核心组件
	endpoint *network.UDPEndpoint // UDP端点：数据报收发与会话对端过滤
	runner   runner               // 传输循环：发送端或接收端，由角色决定
	sink     *os.File             // 接收端输出文件（发送端为nil）
	timers   *timer.Manager       // 定时器管理器：驱动周期性进度回调

	// Runtime state 服务运行状态
	ctx        context.Context
	cancel     context.CancelFunc
	isRunning  bool
	startedAt  time.Time
	finishedAt time.Time
	result     error         // 传输结果，传输循环退出时写入
	done       chan struct{} // 传输循环退出信号

	// Callbacks 外部回调函数（进度/完成/错误）
	callbacks *api.Callbacks

	// Logger 日志实例
	log *logger.Logger
}

var _ api.Service = (*TransferService)(nil)

// NewTransferService 创建文件传输服务实例
// 参数：config - 服务配置（含角色、地址、文件路径、传输参数等）
// 返回：服务实例，配置非法则返回错误
func NewTransferService(config *api.Config) (*TransferService, error) {
	s := &TransferService{
		callbacks: &api.Callbacks{},
		log:       logger.Default(),
	}
	if err := s.Init(config); err != nil {
		return nil, err
	}
	return s, nil
}

// Init 初始化服务配置（需在服务未运行时调用）
// 参数：config - 服务配置
// 返回：配置非法或服务已运行则返回错误
func (s *TransferService) Init(config *api.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("服务已运行，无法重新初始化")
	}
	if config == nil {
		return fmt.Errorf("配置不能为nil")
	}
	if err := validateConfig(config); err != nil {
		return err
	}

	// 应用日志级别（空值沿用当前级别）
	if config.LogLevel != "" {
		level, err := logger.ParseLevel(config.LogLevel)
		if err != nil {
			return fmt.Errorf("无效的日志级别 %q: %w", config.LogLevel, err)
		}
		logger.SetLevel(level)
	}

	s.config = config
	s.log.Info("初始化传输服务",
		logger.String("角色", config.Role.String()),
		logger.String("模式", config.Mode.String()))

	return nil
}

// Start 启动传输（构建网络端点与传输循环，启动后台协程）
// 返回：端点创建或文件打开失败则返回错误
func (s *TransferService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("服务已运行")
	}
	if s.config == nil {
		return fmt.Errorf("服务未初始化")
	}

	s.log.Info("启动传输服务")

	if err := s.setupRunner(); err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.isRunning = true
	s.startedAt = time.Now()
	s.finishedAt = time.Time{}
	s.result = nil
	s.done = make(chan struct{})
	s.timers = timer.NewManager()

	// 后台协程：执行传输循环直到结束
	go s.transferWorker()

	// 周期性进度回调（只读取统计快照，不触碰协议状态）
	if err := s.timers.CreateTimer("progress", progressInterval, s.reportProgress); err != nil {
		s.log.Warn("创建进度定时器失败", logger.Err(err))
	}

	s.log.Info("传输服务启动成功",
		logger.String("本地地址", s.endpoint.LocalAddr().String()))

	// 通配地址监听时操作者无法从本地地址判断对端该连哪里
	if s.config.Role == api.RoleSender {
		s.logReachableAddrs()
	}
	return nil
}

// 公布启用接口上的可达地址，并提示MTU小于数据报长度的接口
func (s *TransferService) logReachableAddrs() {
	addr, ok := s.endpoint.LocalAddr().(*net.UDPAddr)
	if !ok || !addr.IP.IsUnspecified() {
		return
	}
	mgr, err := network.NewManager()
	if err != nil {
		s.log.Warn("扫描网络接口失败", logger.Err(err))
		return
	}

	ips := mgr.AdvertisedIPs()
	candidates := make([]string, 0, len(ips))
	for _, ip := range ips {
		candidates = append(candidates, net.JoinHostPort(ip.String(), strconv.Itoa(addr.Port)))
	}
	s.log.Info("对端可用的连接地址", logger.Strings("地址", candidates))

	mss := s.config.Transfer.MSS
	if mss <= 0 || mss > rudp.MaxData {
		mss = rudp.MaxData
	}
	if small := mgr.SmallMTUInterfaces(rudp.HeaderSize + mss); len(small) > 0 {
		s.log.Warn("接口MTU小于数据报长度，可能出现IP分片", logger.Strings("接口", small))
	}
}

// Stop 停止传输服务（通知传输循环退出并等待其结束）
// 返回：服务未运行则返回错误
func (s *TransferService) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("服务未运行")
	}
	// 运行标志由传输循环在退出时清除，停止期间的Start调用会被拒绝
	cancel := s.cancel
	timers := s.timers
	done := s.done
	s.mu.Unlock()

	s.log.Info("停止传输服务")

	// 取消上下文：传输循环以短超时轮询，取消后很快返回并关闭端点
	cancel()
	timers.StopAll()
	if done != nil {
		<-done
	}

	s.log.Info("传输服务已停止")
	return nil
}

// Destroy 销毁服务并释放资源（运行中则先停止）
func (s *TransferService) Destroy() {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()

	if running {
		s.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.endpoint = nil
	s.runner = nil
	s.timers = nil

	s.log.Info("传输服务已销毁")
}

// Wait 阻塞等待传输结束，返回传输结果
func (s *TransferService) Wait() error {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()

	if done == nil {
		return fmt.Errorf("服务未启动")
	}
	<-done

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// GetStatistics 获取运行时统计信息
func (s *TransferService) GetStatistics() (*api.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.runner == nil {
		return nil, fmt.Errorf("服务未启动")
	}
	return s.statisticsLocked(), nil
}

// DumpState 导出当前运行状态快照（yaml格式，需配置EnableDump）
func (s *TransferService) DumpState() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil || !s.config.EnableDump {
		return "", fmt.Errorf("未开启状态导出")
	}
	if s.runner == nil {
		return "", fmt.Errorf("服务未启动")
	}

	snapshot := stateSnapshot{
		Role:       s.config.Role.String(),
		Mode:       s.config.Mode.String(),
		Running:    s.isRunning,
		Progress:   s.runner.Progress(),
		Statistics: s.statisticsLocked(),
	}
	out, err := yaml.Marshal(&snapshot)
	if err != nil {
		return "", fmt.Errorf("序列化运行状态失败: %w", err)
	}
	return string(out), nil
}

// LocalAddr 获取端点实际绑定的本地地址（未启动时返回nil）
// 监听地址配置为":0"时可据此取得系统分配的端口
func (s *TransferService) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.endpoint == nil {
		return nil
	}
	return s.endpoint.LocalAddr()
}

// RegisterCallbacks 注册事件回调（进度/完成/错误）
func (s *TransferService) RegisterCallbacks(callbacks *api.Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if callbacks == nil {
		callbacks = &api.Callbacks{}
	}
	s.callbacks = callbacks
}

// 运行状态快照（DumpState输出结构）
type stateSnapshot struct {
	Role       string            `yaml:"role"`
	Mode       string            `yaml:"mode"`
	Running    bool              `yaml:"running"`
	Progress   rudp.ProgressInfo `yaml:"progress"`
	Statistics *api.Statistics   `yaml:"statistics"`
}

// 按角色构建网络端点与传输循环，调用方需持有写锁
func (s *TransferService) setupRunner() error {
	params := transferParams(s.config)

	switch s.config.Role {
	case api.RoleSender:
		payload, err := os.ReadFile(s.config.FilePath)
		if err != nil {
			return fmt.Errorf("读取待传输文件失败: %w", err)
		}
		ctrl, err := s.newController()
		if err != nil {
			return err
		}
		ep, err := network.Listen(s.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("创建监听端点失败: %w", err)
		}
		sender, err := rudp.NewSender(ep, ctrl, payload, params)
		if err != nil {
			ep.Close()
			return err
		}
		s.endpoint = ep
		s.runner = sender
		s.sink = nil

	case api.RoleReceiver:
		sink, err := os.Create(s.config.OutputPath)
		if err != nil {
			return fmt.Errorf("创建输出文件失败: %w", err)
		}
		ep, err := network.Dial(s.config.ServerAddr)
		if err != nil {
			sink.Close()
			return fmt.Errorf("创建传输端点失败: %w", err)
		}
		receiver, err := rudp.NewReceiver(ep, sink, params)
		if err != nil {
			ep.Close()
			sink.Close()
			return err
		}
		s.endpoint = ep
		s.runner = receiver
		s.sink = sink
	}
	return nil
}

// 按配置创建拥塞控制器，窗口与阈值零值取默认
func (s *TransferService) newController() (congestion.Controller, error) {
	window := s.config.WindowSegments
	if window <= 0 {
		window = DefaultWindowSegments
	}
	ssthresh := s.config.Ssthresh
	if ssthresh <= 0 {
		ssthresh = DefaultSsthresh
	}
	return congestion.NewController(s.config.Mode.String(), window, ssthresh)
}

// 后台协程：执行传输循环，结束后记录结果并分发回调
func (s *TransferService) transferWorker() {
	err := s.runner.Run(s.ctx)

	s.mu.Lock()
	if s.sink != nil {
		if cerr := s.sink.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("关闭输出文件失败: %w", cerr))
		}
		s.sink = nil
	}
	s.result = err
	s.finishedAt = time.Now()
	s.isRunning = false
	var stats *api.Statistics
	if err == nil {
		stats = s.statisticsLocked()
	}
	callbacks := s.callbacks
	timers := s.timers
	done := s.done
	s.mu.Unlock()

	timers.StopAll()

	// 先分发回调再释放done，保证Wait返回时回调均已完成
	switch {
	case err == nil:
		if callbacks.OnComplete != nil {
			callbacks.OnComplete(stats)
		}
	case errors.Is(err, context.Canceled):
		s.log.Info("传输已取消")
	default:
		s.log.Error("传输失败", logger.Err(err))
		if callbacks.OnError != nil {
			callbacks.OnError(err)
		}
	}

	close(done)
}

// 定时器回调：组装进度快照并分发进度回调
func (s *TransferService) reportProgress() {
	s.mu.RLock()
	if s.runner == nil || !s.isRunning {
		s.mu.RUnlock()
		return
	}
	p := s.runner.Progress()
	role := s.config.Role
	elapsed := s.elapsedLocked()
	callbacks := s.callbacks
	s.mu.RUnlock()

	progress := &api.Progress{
		Role:       role,
		BytesTotal: p.BytesTotal,
		BytesDone:  p.BytesDone,
		Cwnd:       float64(p.Cwnd),
		RTO:        p.RTO,
		Elapsed:    elapsed,
	}
	if p.BytesTotal > 0 {
		progress.Percent = float64(p.BytesDone) * 100 / float64(p.BytesTotal)
	}
	if sec := elapsed.Seconds(); sec > 0 {
		progress.Throughput = float64(p.BytesDone) / sec
	}

	if callbacks.OnProgress != nil {
		callbacks.OnProgress(progress)
	}
}

// 组装统计信息，调用方需持有锁
func (s *TransferService) statisticsLocked() *api.Statistics {
	st := s.runner.Stats()
	p := s.runner.Progress()
	elapsed := s.elapsedLocked()

	out := &api.Statistics{
		PacketsSent:        st.PacketsSent,
		PacketsReceived:    st.PacketsReceived,
		BytesSent:          st.BytesSent,
		BytesReceived:      st.BytesReceived,
		Retransmissions:    st.Retransmissions,
		FastRetransmits:    st.FastRetransmits,
		TimeoutRetransmits: st.TimeoutRetransmits,
		DuplicateAcks:      st.DuplicateAcks,
		InvalidAcks:        st.InvalidAcks,
		MalformedDrops:     st.MalformedDrops,
		SackedSegments:     st.SackedSegments,
		DuplicateSegments:  st.DuplicateSegments,
		OutOfOrderBuffered: st.OutOfOrderBuffered,
		SRTT:               p.SRTT,
		Duration:           elapsed,
	}
	if s.config.Role == api.RoleReceiver {
		out.BytesDelivered = p.BytesDone
	}
	if sec := elapsed.Seconds(); sec > 0 {
		out.Throughput = float64(p.BytesDone) / sec
	}
	return out
}

// 已运行时长，传输结束后固定为总耗时
func (s *TransferService) elapsedLocked() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	if !s.finishedAt.IsZero() {
		return s.finishedAt.Sub(s.startedAt)
	}
	return time.Since(s.startedAt)
}

// 校验配置的角色、模式与路径组合
func validateConfig(config *api.Config) error {
	switch config.Role {
	case api.RoleSender:
		if config.ListenAddr == "" {
			return fmt.Errorf("发送端需要指定监听地址")
		}
		if config.FilePath == "" {
			return fmt.Errorf("发送端需要指定待传输文件")
		}
	case api.RoleReceiver:
		if config.ServerAddr == "" {
			return fmt.Errorf("接收端需要指定发送端地址")
		}
		if config.OutputPath == "" {
			return fmt.Errorf("接收端需要指定输出文件路径")
		}
	default:
		return fmt.Errorf("未知角色: %d", config.Role)
	}

	switch config.Mode {
	case api.ModeFixed, api.ModeReno:
	default:
		return fmt.Errorf("未知传输模式: %d", config.Mode)
	}

	if config.Transfer.PollTimeout >= 10*time.Millisecond {
		return fmt.Errorf("轮询超时需小于10ms: %v", config.Transfer.PollTimeout)
	}
	return nil
}

// 配置映射为传输参数
// 零值字段由传输层补默认；固定窗口模式偏差放大系数取6并放宽初始RTO
func transferParams(config *api.Config) rudp.Params {
	t := config.Transfer
	p := rudp.Params{
		MSS:          t.MSS,
		PollTimeout:  t.PollTimeout,
		InitialRTO:   t.InitialRTO,
		MinRTO:       t.MinRTO,
		MaxRTO:       t.MaxRTO,
		RTOScale:     t.RTOScale,
		MaxRetries:   t.MaxRetries,
		RetryTimeout: t.RetryTimeout,
		BurstLimit:   t.BurstLimit,
		AckBatch:     t.AckBatch,
		RecvBatch:    t.RecvBatch,
		EOFRepeat:    t.EOFRepeat,
		EOFInterval:  t.EOFInterval,
		TerminalAcks: t.TerminalAcks,
		MaxIdleIters: t.MaxIdleIters,
	}
	if config.Mode == api.ModeFixed {
		if p.RTOScale == 0 {
			p.RTOScale = 6
		}
		if p.InitialRTO == 0 {
			p.InitialRTO = 500 * time.Millisecond
		}
	}
	return p
}
