package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/cache"
	"github.com/any-hub/offline-agent/internal/config"
	"github.com/any-hub/offline-agent/internal/lifecycle"
	"github.com/any-hub/offline-agent/internal/logging"
	"github.com/any-hub/offline-agent/internal/platform"
	"github.com/any-hub/offline-agent/internal/proxy"
	"github.com/any-hub/offline-agent/internal/server"
	"github.com/any-hub/offline-agent/internal/server/routes"
	"github.com/any-hub/offline-agent/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// shutdownTimeout 限制退出时等待在途请求与后台缓存写入的时间。
const shutdownTimeout = 15 * time.Second

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
		fields["origin"] = cfg.Global.Origin
		fields["origin_host"] = cfg.Global.OriginHost()
		fields["cache_name"] = cfg.Global.CacheName
		fields["manifest"] = len(cfg.Global.Manifest)
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 存储 → 缓存管理 → 生命周期控制器 → Fiber server，
	// 所有请求共享同一个缓存实例与当前代际槽位。
	ag, err := newAgent(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化代理失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Global.Origin
	fields["origin_host"] = cfg.Global.OriginHost()
	fields["cache_name"] = cfg.Global.CacheName
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ag.bootstrap(ctx)

	if err := ag.serve(ctx); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_AGENT_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_AGENT_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// agent 把各组件装配在一起；字段供测试直接断言。
type agent struct {
	cfg        *config.Config
	logger     *logrus.Logger
	app        *fiber.App
	manager    *cache.Manager
	writer     *cache.BackgroundWriter
	controller *lifecycle.Controller
	manifest   []string
}

func newAgent(cfg *config.Config, logger *logrus.Logger) (*agent, error) {
	storage, err := openStorage(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	origin, err := url.Parse(cfg.Global.Origin)
	if err != nil {
		return nil, fmt.Errorf("解析 Origin 失败: %w", err)
	}
	scope := cfg.Global.ScopeURL()
	manifest, err := cache.ResolveManifest(scope, cfg.Global.Manifest)
	if err != nil {
		return nil, err
	}
	fallback, err := cache.ResolveManifest(scope, []string{cfg.Global.FallbackDocument})
	if err != nil {
		return nil, err
	}

	client := server.NewOriginClient(cfg.Global)
	fetcher, err := proxy.NewHTTPFetcher(client, origin)
	if err != nil {
		return nil, err
	}

	manager, err := cache.NewManager(cache.ManagerOptions{
		Storage:     storage,
		Fetcher:     fetcher,
		Logger:      logger,
		Concurrency: cfg.Global.PopulateConcurrency,
	})
	if err != nil {
		return nil, err
	}
	writer := cache.NewBackgroundWriter(logger, cfg.Global.StoreTimeout.DurationValue())

	clients := platform.NewClientRegistry(logger)
	notifier := platform.NewLogNotifier(logger)

	controller, err := lifecycle.NewController(lifecycle.ControllerOptions{
		Manager:     manager,
		Clients:     clients,
		Logger:      logger,
		SkipWaiting: cfg.Global.SkipWaiting,
	})
	if err != nil {
		return nil, err
	}
	dispatcher, err := lifecycle.NewDispatcher(lifecycle.DispatcherOptions{
		Notifier: notifier,
		Clients:  clients,
		Logger:   logger,
		Config:   cfg.Notification,
		Scope:    scope,
	})
	if err != nil {
		return nil, err
	}

	interceptor, err := proxy.NewInterceptor(proxy.InterceptorOptions{
		Manager:         manager,
		Fetcher:         fetcher,
		Writer:          writer,
		Logger:          logger,
		FallbackURL:     fallback[0],
		ExcludedSchemes: cfg.Global.ExcludedSchemes,
	})
	if err != nil {
		return nil, err
	}
	handler, err := proxy.NewHandler(interceptor, controller, origin, logger)
	if err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	if err := routes.RegisterControlRoutes(app, routes.ControlDeps{
		Controller: controller,
		Dispatcher: dispatcher,
		Clients:    clients,
		Notifier:   notifier,
		Manager:    manager,
		Logger:     logger,
	}); err != nil {
		return nil, err
	}

	return &agent{
		cfg:        cfg,
		logger:     logger,
		app:        app,
		manager:    manager,
		writer:     writer,
		controller: controller,
		manifest:   manifest,
	}, nil
}

// bootstrap 恢复上次激活的代际，然后安装配置中的版本。安装失败只记录日志，
// 旧代际（或直连模式）继续服务。
func (a *agent) bootstrap(ctx context.Context) {
	if err := a.controller.Restore(ctx); err != nil {
		a.logger.WithFields(logrus.Fields{"action": "restore"}).WithError(err).Warn("restore_failed")
	}
	if err := a.controller.Install(ctx, a.cfg.Global.CacheName, a.manifest); err != nil {
		status := a.controller.Status()
		a.logger.WithFields(logging.LifecycleFields("install", a.cfg.Global.CacheName, string(status.State))).
			WithField("current", status.Current).
			WithError(err).Warn("serving_previous_generation")
	}
}

// serve 监听端口直到 ctx 结束，随后优雅关闭并等待后台缓存写入完成。
func (a *agent) serve(ctx context.Context) error {
	port := a.cfg.Global.ListenPort
	a.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		a.writer.Close()
		a.writer.Wait()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.app.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("shutdown_failed")
	}
	a.writer.Close()
	if err := a.writer.WaitContext(shutdownCtx); err != nil {
		a.logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("pending_writes_abandoned")
	}
	a.logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("服务已停止")

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStorage 根据 StorageDriver 选择磁盘或内存存储。
func openStorage(cfg config.GlobalConfig) (cache.Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		return cache.NewMemoryStorage(), nil
	case config.StorageDriverDisk, "":
		return cache.NewDiskStorage(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
