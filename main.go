// RUDP-Go的命令行接口，用于在不可靠UDP链路上执行可靠的文件传输
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SaharshLaud/rudp-go/api"
	"github.com/SaharshLaud/rudp-go/pkg/transfer"
	log "github.com/SaharshLaud/rudp-go/pkg/utils/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// 版本信息（编译时可通过参数注入）
	Version   = "dev"     // 版本号
	BuildTime = "unknown" // 构建时间

	// 配置相关
	cfgFile string     // 配置文件路径
	config  api.Config // 服务配置结构体

	// 日志实例
	logger *log.Logger
)

// rootCmd 表示基础命令（默认命令）
var rootCmd = &cobra.Command{
	Use:   "rudp",
	Short: "RUDP-Go: 基于UDP的可靠文件传输工具",
	Long: `RUDP-Go在不可靠的UDP之上实现有序、可靠、带拥塞控制的文件传输。
发送端监听并等待接收端连入，支持固定窗口与Reno两种窗口策略。`,
}

// versionCmd 表示版本命令（用于显示版本信息）
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("RUDP-Go %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// sendCmd 表示发送命令（监听并向连入的接收端发送文件）
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "作为发送端传输文件",
	Run:   runSend,
}

// receiveCmd 表示接收命令（连接发送端并接收文件）
var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "作为接收端保存文件",
	Run:   runReceive,
}

func init() {
	// 在命令执行前初始化配置
	cobra.OnInitialize(initConfig)

	// 全局标志（所有命令共享）
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认是./rudp.yaml）")
	rootCmd.PersistentFlags().String("log-level", "info", "日志级别（debug, info, warn, error）")
	rootCmd.PersistentFlags().String("log-file", "", "日志文件路径（为空时输出到控制台）")
	rootCmd.PersistentFlags().String("log-rotate", "size", "日志轮转策略（size=按大小, time=按小时）")
	rootCmd.PersistentFlags().String("mode", "reno", "窗口策略（fixed=固定窗口, reno=慢启动与拥塞避免）")
	rootCmd.PersistentFlags().Int("window", 0, "固定窗口段数（0使用默认值）")
	rootCmd.PersistentFlags().Int("ssthresh", 0, "Reno初始慢启动阈值段数（0使用默认值）")
	rootCmd.PersistentFlags().Bool("enable-dump", false, "启用SIGUSR1运行状态导出")

	// 将命令行标志绑定到viper（用于配置读取）
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("log-rotate", rootCmd.PersistentFlags().Lookup("log-rotate"))
	viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode"))
	viper.BindPFlag("window", rootCmd.PersistentFlags().Lookup("window"))
	viper.BindPFlag("ssthresh", rootCmd.PersistentFlags().Lookup("ssthresh"))
	viper.BindPFlag("enable-dump", rootCmd.PersistentFlags().Lookup("enable-dump"))

	// 发送命令专属标志
	sendCmd.Flags().String("listen", ":9000", "本地监听地址")
	sendCmd.Flags().String("file", "", "待发送文件路径")

	// 接收命令专属标志
	receiveCmd.Flags().String("server", "127.0.0.1:9000", "发送端地址")
	receiveCmd.Flags().String("output", "", "输出文件路径")

	// 添加子命令到根命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
}

// initConfig 初始化配置：读取配置文件、环境变量并初始化日志
func initConfig() {
	// 配置文件处理
	if cfgFile != "" {
		// 若指定了配置文件路径，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 未指定则在当前目录查找rudp.yaml
		viper.AddConfigPath(".")
		viper.SetConfigName("rudp")
		viper.SetConfigType("yaml")
	}

	// 环境变量前缀为RUDP（例如RUDP_LOG_LEVEL对应log-level）
	viper.SetEnvPrefix("RUDP")
	viper.AutomaticEnv() // 自动读取环境变量

	// 读取配置文件（若存在）
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("使用配置文件:", viper.ConfigFileUsed())
	}

	// 指定日志文件时替换默认控制台输出，按配置的策略轮转
	if file := viper.GetString("log-file"); file != "" {
		level, err := log.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			level = log.InfoLevel
		}
		var out io.Writer
		switch viper.GetString("log-rotate") {
		case "time":
			out, err = log.NewTimeRotateWriter(file, time.Hour, 7*24*time.Hour)
			if err != nil {
				fmt.Fprintf(os.Stderr, "创建日志文件失败: %v\n", err)
				os.Exit(1)
			}
		default:
			out = log.NewSizeRotateWriter(file, 100, 5, 30)
		}
		log.ReplaceDefault(log.New(out, level, log.AddCaller(), log.AddCallerSkip(2)))
	}
	logger = log.Default()
}

// runSend 执行send命令：以发送端身份启动传输服务
func runSend(cmd *cobra.Command, args []string) {
	loadConfig()
	config.Role = api.RoleSender
	config.ListenAddr, _ = cmd.Flags().GetString("listen")
	config.FilePath, _ = cmd.Flags().GetString("file")

	logger.Info("启动RUDP-Go发送端",
		zap.String("版本", Version),
		zap.String("监听地址", config.ListenAddr),
		zap.String("文件", config.FilePath),
		zap.String("模式", config.Mode.String()))

	runTransfer()
}

// runReceive 执行receive命令：以接收端身份启动传输服务
func runReceive(cmd *cobra.Command, args []string) {
	loadConfig()
	config.Role = api.RoleReceiver
	config.ServerAddr, _ = cmd.Flags().GetString("server")
	config.OutputPath, _ = cmd.Flags().GetString("output")

	logger.Info("启动RUDP-Go接收端",
		zap.String("版本", Version),
		zap.String("发送端地址", config.ServerAddr),
		zap.String("输出文件", config.OutputPath),
		zap.String("模式", config.Mode.String()))

	runTransfer()
}

// runTransfer 创建并运行传输服务，处理进度上报与系统信号
func runTransfer() {
	svc, err := transfer.NewTransferService(&config)
	if err != nil {
		logger.Fatal("创建传输服务失败", zap.Error(err))
	}
	defer svc.Destroy()

	// 注册回调函数（处理进度、完成和错误事件）
	svc.RegisterCallbacks(&api.Callbacks{
		OnProgress: func(p *api.Progress) {
			logger.Info("传输进度",
				zap.Float64("百分比", p.Percent),
				zap.Float64("吞吐", p.Throughput),
				zap.Duration("已运行", p.Elapsed))
		},
		OnComplete: func(s *api.Statistics) {
			fmt.Printf("传输完成: 耗时 %v, 吞吐 %.0f 字节/秒, 重传 %d 次\n",
				s.Duration.Round(time.Millisecond), s.Throughput, s.Retransmissions)
		},
		OnError: func(err error) {
			logger.Error("传输出错", zap.Error(err))
		},
	})

	// 启动传输服务
	if err := svc.Start(); err != nil {
		logger.Fatal("启动传输服务失败", zap.Error(err))
	}

	// 在独立goroutine中等待传输结束
	done := make(chan error, 1)
	go func() { done <- svc.Wait() }()

	// 监听系统信号（SIGINT=Ctrl+C, SIGTERM=终止信号, SIGUSR1=状态导出）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	// 阻塞等待传输结束或中断信号
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGUSR1 {
				dumpState(svc)
				continue
			}
			logger.Info("收到中断信号，开始关闭服务", zap.String("信号", sig.String()))
			if err := svc.Stop(); err != nil {
				logger.Error("停止服务失败", zap.Error(err))
			}
			<-done
			logger.Info("RUDP-Go服务已停止")
			return
		case err := <-done:
			if err != nil {
				// 失败详情已由错误回调记录
				os.Exit(1)
			}
			logger.Info("传输正常结束")
			return
		}
	}
}

// dumpState 打印服务当前运行状态（需启用enable-dump）
func dumpState(svc api.Service) {
	out, err := svc.DumpState()
	if err != nil {
		logger.Warn("状态导出失败", zap.Error(err))
		return
	}
	fmt.Fprintln(os.Stderr, out)
}

// loadConfig 从viper加载配置到config结构体
func loadConfig() {
	// 解析窗口策略（字符串转枚举）
	mode, ok := api.ParseMode(viper.GetString("mode"))
	if !ok {
		logger.Fatal("未知的窗口策略", zap.String("模式", viper.GetString("mode")))
	}

	// 从viper读取配置（viper已绑定命令行标志和配置文件）
	config = api.Config{
		Mode:           mode,                         // 窗口策略
		WindowSegments: viper.GetInt("window"),       // 固定窗口段数
		Ssthresh:       viper.GetInt("ssthresh"),     // Reno慢启动阈值
		LogLevel:       viper.GetString("log-level"), // 日志级别
		EnableDump:     viper.GetBool("enable-dump"), // 状态导出开关
	}
}

// main 函数：执行root命令
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// ./rudp send --file ./bigfile.bin --listen :9000 --mode fixed --window 32

// ./rudp receive --server 192.168.1.10:9000 --output ./bigfile.bin --log-level debug
