package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/xsendlink/xsendlink/internal/config"
	"github.com/xsendlink/xsendlink/internal/linkstore"
	"github.com/xsendlink/xsendlink/internal/logging"
	"github.com/xsendlink/xsendlink/internal/scheduler"
	"github.com/xsendlink/xsendlink/internal/sendfile"
	"github.com/xsendlink/xsendlink/internal/server"
	"github.com/xsendlink/xsendlink/internal/server/routes"
	"github.com/xsendlink/xsendlink/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	gcOnce      bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["downloads"] = len(cfg.Downloads)
		fields["link_dir"] = cfg.Sendfile.LinkDir
		fields["link_dir_uri"] = cfg.Sendfile.EffectiveLinkDirURI()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序为“配置 → 链接目录 → 改写引擎/回收器 → 定时任务 → Fiber server”。
	// 链接目录不可用时服务仍然启动，只是改写引擎保持停用。
	sendfileCfg := buildSendfileConfig(cfg)
	store, err := linkstore.Open(sendfileCfg.StoreOptions())
	if err != nil {
		fields := logging.BaseFields("link_dir_open", opts.configPath)
		fields["link_dir"] = sendfileCfg.LinkDir
		logger.WithFields(fields).WithError(err).Error("链接目录不可用，sendfile 改写已停用")
		store = nil
	}

	engine := sendfile.NewEngine(sendfileCfg, store)
	collector := sendfile.NewCollector(sendfileCfg, store, logger)
	manager := scheduler.NewManager(logger, collector)

	if opts.gcOnce {
		removed, err := manager.RunOnce(context.Background())
		if err != nil {
			fmt.Fprintf(stdErr, "回收链接目录失败: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdOut, "removed %d expired link directories\n", removed)
		return 0
	}

	if store != nil {
		if err := manager.Start(cfg.Sendfile.GCSchedule); err != nil {
			fmt.Fprintf(stdErr, "启动回收任务失败: %v\n", err)
			return 1
		}
		defer manager.Stop()
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["downloads"] = len(cfg.Downloads)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["sendfile_active"] = engine.Active()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, engine, store, manager, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildSendfileConfig 把 TOML 中的 [Sendfile] 段转换为改写引擎使用的配置。
func buildSendfileConfig(cfg *config.Config) sendfile.Config {
	sc := cfg.Sendfile
	out := sendfile.Config{
		LinkDir:              sc.LinkDir,
		LinkDirURI:           sc.EffectiveLinkDirURI(),
		Expire:               sc.Expire.DurationValue(),
		Salt:                 sc.Salt,
		DisallowedExtensions: append([]string(nil), sc.DisallowedExtensions...),
		ExternalLinkTemplate: sc.ExternalLinkTemplate,
		BaseDir:              sc.BaseDir,
		CreateLinkDir:        sc.CreateLinkDir,
		MaxSecretAttempts:    sc.MaxSecretAttempts,
		NativeSendfile:       sc.NativeSendfile,
	}
	if overrides := sc.OverrideSet(); len(overrides) > 0 {
		out.ExtensionPolicy = func(ext string) bool {
			_, ok := overrides[strings.ToLower(ext)]
			return ok
		}
	}
	return out
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("xsendlink", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		gcOnce     bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 XSENDLINK_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&gcOnce, "gc-once", false, "执行一次过期链接目录回收后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(config.EnvPrefix + "_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		gcOnce:      gcOnce,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, engine *sendfile.Engine, store linkstore.Store, manager *scheduler.Manager, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Engine:     engine,
		Downloads:  cfg.Downloads,
		LinkRoute:  cfg.Sendfile.LinkRoute,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	diag := routes.DiagnosticsOptions{Engine: engine}
	if store != nil {
		diag.Store = store
		diag.Sweeper = manager
	}
	routes.RegisterDiagnosticsRoutes(app, diag)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
