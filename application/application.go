// Package application 是嵌入 serde 的进程的运行时容器：加载配置文件，
// 初始化日志与指标，并按配置创建命名的引擎池。
package application

import (
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"go.uber.org/zap"

	zlog "github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-serde/pkg/serde"
	zviper "github.com/lk2023060901/danmu-garden-serde/pkg/util/viper"
)

const (
	defaultConfigPath = "./config.yaml"
	configPathEnv     = "SERDE_CONFIG_FILE_PATH"
	envPrefix         = "SERDE"
)

// Application 持有进程级的配置、日志与引擎池。
type Application struct {
	cfg      *zviper.Config
	serdeCfg serde.Config
	checker  serde.ClassChecker
	loggers  map[string]*zlog.MLogger

	mu    sync.Mutex
	pools map[string]*serde.Pool
}

func New() *Application {
	return &Application{pools: make(map[string]*serde.Pool)}
}

// Run 解析配置文件路径并完成初始化。路径优先级从低到高：
//  1. 默认 ./config.yaml
//  2. 环境变量 SERDE_CONFIG_FILE_PATH
//  3. 命令行 --config <path> 或 --config=<path>
func (a *Application) Run(args []string) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}
	return a.RunWithFile(path, prometheus.DefaultRegisterer)
}

// RunWithFile 从 path 加载配置，并把指标注册到 r（为 nil 时不注册）。
func (a *Application) RunWithFile(path string, r prometheus.Registerer) error {
	cfg := zviper.New(zviper.WithEnvPrefix(envPrefix))
	if err := cfg.LoadFile(path); err != nil {
		return errors.Wrapf(err, "failed to load config file %q", path)
	}
	a.cfg = cfg

	serdeCfg, err := serde.ConfigFrom(cfg)
	if err != nil {
		return err
	}
	a.serdeCfg = serdeCfg
	if a.checker, err = serde.CheckerFrom(cfg); err != nil {
		return err
	}

	if err := a.initLogging(); err != nil {
		return err
	}
	switch c := a.checker.(type) {
	case *serde.AllowListChecker:
		zlog.Info("class allow list installed", zap.Strings("names", c.Names()))
	case *serde.DenyListChecker:
		zlog.Info("class deny list installed", zap.Strings("names", c.Names()))
	}
	if r != nil {
		metrics.Register(r)
	}
	zlog.Info("application started",
		zap.String("config", path),
		zap.Bool("compatible", serdeCfg.Compatible),
		zap.Bool("refTracking", serdeCfg.RefTracking),
		zap.Int("poolMaxSize", serdeCfg.Pool.MaxSize))
	return nil
}

// ClassChecker 返回配置文件中名单对应的检查器，未配置时为 nil。
func (a *Application) ClassChecker() serde.ClassChecker {
	return a.checker
}

// SerdeConfig 返回配置文件中 serde 节点的内容。
func (a *Application) SerdeConfig() serde.Config {
	return a.serdeCfg
}

// Pool 返回名为 name 的引擎池，首次调用时按 serde 配置创建，name 为空时使用配置中的池名。
func (a *Application) Pool(name string, opts ...serde.Option) (*serde.Pool, error) {
	cfg := a.serdeCfg
	if name == "" {
		name = cfg.Pool.Name
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pools[name]; ok {
		return p, nil
	}
	cfg.Pool.Name = name
	base := []serde.Option{serde.WithConfig(cfg)}
	if a.checker != nil {
		base = append(base, serde.WithClassChecker(a.checker))
	}
	p, err := serde.NewPool(append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	a.pools[name] = p
	return p, nil
}

// Logger 返回配置中 logging 节点定义的命名日志，不存在时回退到全局日志。
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// Close 关闭全部引擎池并刷新日志。
func (a *Application) Close() {
	a.mu.Lock()
	pools := lo.Values(a.pools)
	a.pools = make(map[string]*serde.Pool)
	a.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
	_ = zlog.Sync()
}

func configPath(args []string) (string, error) {
	path := defaultConfigPath
	if envPath := strings.TrimSpace(os.Getenv(configPathEnv)); envPath != "" {
		path = envPath
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", errors.New("missing value after --config")
			}
			path = args[i+1]
			i++
			continue
		}
		if val, ok := strings.CutPrefix(arg, "--config="); ok && val != "" {
			path = val
		}
	}
	return path, nil
}

// initLogging 按 log 节点初始化全局日志，按 logging 节点创建命名日志。
//
//	log:
//	  level: info
//	  stdout: true
//	logging:
//	  stream:
//	    level: debug
//	    file:
//	      rootpath: ./logs
//	      filename: stream.log
func (a *Application) initLogging() error {
	if a.cfg.IsSet("log") {
		var global zlog.Config
		if err := a.cfg.UnmarshalKey("log", &global); err != nil {
			return err
		}
		logger, props, err := zlog.InitLogger(&global)
		if err != nil {
			return errors.Wrap(err, "init global logger")
		}
		zlog.ReplaceGlobals(logger, props)
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		lc := lc
		logger, _, err := zlog.InitLogger(&lc)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}
	return nil
}
