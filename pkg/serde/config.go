package serde

import (
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/viper"
)

const (
	DefaultMaxDepth        = 512
	DefaultPoolMaxSize     = 16
	DefaultMaxFrameSize    = 16 << 20
	DefaultMinCompressSize = 1024
	DefaultProtocolVersion = "1.0.0"

	CompressionNone = "none"
	CompressionZstd = "zstd"

	configKey    = "serde"
	allowListKey = configKey + ".allowList"
	denyListKey  = configKey + ".denyList"
)

// Config 是引擎的全部配置项。相等的 Config 在进程内被驻留为同一个编号，
// 因此它必须保持可比较（只含基本类型字段）。
type Config struct {
	// RefTracking 开启后共享对象只写一次，循环引用可以正确还原。
	RefTracking bool `mapstructure:"refTracking" yaml:"refTracking" json:"refTracking"`
	// Compatible 开启按字段名映射的兼容模式，并隐含关闭类版本校验。
	Compatible bool `mapstructure:"compatible" yaml:"compatible" json:"compatible"`
	// CheckClassVersion 在一致模式下为每个结构体写出字段摘要，读端不一致时拒绝解码。
	CheckClassVersion bool `mapstructure:"checkClassVersion" yaml:"checkClassVersion" json:"checkClassVersion"`
	// RequireRegistration 要求所有用户类型显式注册。
	RequireRegistration bool `mapstructure:"requireRegistration" yaml:"requireRegistration" json:"requireRegistration"`
	// CompressNumber 对 32/64 位整数使用变长编码。
	CompressNumber    bool `mapstructure:"compressNumber" yaml:"compressNumber" json:"compressNumber"`
	MaxDepth          int  `mapstructure:"maxDepth" yaml:"maxDepth" json:"maxDepth"`
	InitialBufferSize int  `mapstructure:"initialBufferSize" yaml:"initialBufferSize" json:"initialBufferSize"`

	Pool   PoolConfig   `mapstructure:"pool" yaml:"pool" json:"pool"`
	Stream StreamConfig `mapstructure:"stream" yaml:"stream" json:"stream"`
}

type PoolConfig struct {
	MaxSize int    `mapstructure:"maxSize" yaml:"maxSize" json:"maxSize"`
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
}

type StreamConfig struct {
	MaxFrameSize    uint32 `mapstructure:"maxFrameSize" yaml:"maxFrameSize" json:"maxFrameSize"`
	Compression     string `mapstructure:"compression" yaml:"compression" json:"compression"`
	MinCompressSize int    `mapstructure:"minCompressSize" yaml:"minCompressSize" json:"minCompressSize"`
	ProtocolVersion string `mapstructure:"protocolVersion" yaml:"protocolVersion" json:"protocolVersion"`
}

// DefaultConfig 返回默认配置：开启引用跟踪与数值压缩，一致模式。
func DefaultConfig() Config {
	return Config{
		RefTracking:    true,
		CompressNumber: true,
		MaxDepth:       DefaultMaxDepth,
		Pool: PoolConfig{
			MaxSize: DefaultPoolMaxSize,
			Name:    "default",
		},
		Stream: StreamConfig{
			MaxFrameSize:    DefaultMaxFrameSize,
			Compression:     CompressionNone,
			MinCompressSize: DefaultMinCompressSize,
			ProtocolVersion: DefaultProtocolVersion,
		},
	}
}

// Normalize 补齐缺省值，并在兼容模式下关闭类版本校验。
func (c Config) Normalize() Config {
	if c.Compatible {
		c.CheckClassVersion = false
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.Pool.MaxSize <= 0 {
		c.Pool.MaxSize = DefaultPoolMaxSize
	}
	if c.Pool.Name == "" {
		c.Pool.Name = "default"
	}
	if c.Stream.MaxFrameSize == 0 {
		c.Stream.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Stream.Compression == "" {
		c.Stream.Compression = CompressionNone
	}
	if c.Stream.ProtocolVersion == "" {
		c.Stream.ProtocolVersion = DefaultProtocolVersion
	}
	return c
}

func (c Config) Validate() error {
	if c.InitialBufferSize < 0 {
		return merr.WrapErrParameterInvalidMsg("initialBufferSize must not be negative, got %d", c.InitialBufferSize)
	}
	switch c.Stream.Compression {
	case "", CompressionNone, CompressionZstd:
	default:
		return merr.WrapErrParameterInvalid(CompressionNone+"|"+CompressionZstd, c.Stream.Compression, "stream.compression")
	}
	if c.Stream.MinCompressSize < 0 {
		return merr.WrapErrParameterInvalidMsg("stream.minCompressSize must not be negative, got %d", c.Stream.MinCompressSize)
	}
	return nil
}

// LoadConfig 从 YAML/JSON 文件的 serde 节点加载配置，未出现的键保持默认值。
func LoadConfig(path string, opts ...viper.Option) (Config, error) {
	v := viper.New(opts...)
	if err := v.LoadFile(path); err != nil {
		return Config{}, err
	}
	return ConfigFrom(v)
}

// ConfigFrom 从已加载的配置中读取 serde 节点。
func ConfigFrom(v *viper.Config) (Config, error) {
	cfg := DefaultConfig()
	if err := v.UnmarshalKey(configKey, &cfg); err != nil {
		return Config{}, err
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CheckerFrom 根据 serde.allowList 或 serde.denyList 构造类型检查器，
// 两者都未配置时返回 nil。名单不放进 Config，以保持 Config 可比较。
func CheckerFrom(v *viper.Config) (ClassChecker, error) {
	allow := v.GetStringSlice(allowListKey)
	deny := v.GetStringSlice(denyListKey)
	switch {
	case len(allow) > 0 && len(deny) > 0:
		return nil, merr.WrapErrParameterInvalidMsg("%s and %s are mutually exclusive", allowListKey, denyListKey)
	case len(allow) > 0:
		return NewAllowListChecker(allow...), nil
	case len(deny) > 0:
		return NewDenyListChecker(deny...), nil
	}
	return nil, nil
}

type options struct {
	cfg      Config
	cctx     *CodecContext
	interner *Interner
	factory  CompiledCodecFactory
	checker  ClassChecker
}

// Option 用于定制 Engine 与 Pool。
type Option func(opt *options)

func defaultOptions() *options {
	return &options{
		cfg:      DefaultConfig(),
		interner: DefaultInterner(),
	}
}

func buildOptions(opts []Option) (*options, error) {
	opt := defaultOptions()
	for _, o := range opts {
		o(opt)
	}
	opt.cfg = opt.cfg.Normalize()
	if err := opt.cfg.Validate(); err != nil {
		return nil, err
	}
	return opt, nil
}

// WithConfig 以 cfg 整体替换当前配置，之后的选项在其基础上修改。
func WithConfig(cfg Config) Option {
	return func(opt *options) {
		opt.cfg = cfg
	}
}

func WithRefTracking(v bool) Option {
	return func(opt *options) {
		opt.cfg.RefTracking = v
	}
}

func WithCompatible(v bool) Option {
	return func(opt *options) {
		opt.cfg.Compatible = v
	}
}

func WithClassVersionCheck(v bool) Option {
	return func(opt *options) {
		opt.cfg.CheckClassVersion = v
	}
}

func WithRequireRegistration(v bool) Option {
	return func(opt *options) {
		opt.cfg.RequireRegistration = v
	}
}

func WithCompressNumber(v bool) Option {
	return func(opt *options) {
		opt.cfg.CompressNumber = v
	}
}

func WithMaxDepth(depth int) Option {
	return func(opt *options) {
		opt.cfg.MaxDepth = depth
	}
}

func WithInitialBufferSize(size int) Option {
	return func(opt *options) {
		opt.cfg.InitialBufferSize = size
	}
}

func WithPoolSize(size int) Option {
	return func(opt *options) {
		opt.cfg.Pool.MaxSize = size
	}
}

func WithPoolName(name string) Option {
	return func(opt *options) {
		opt.cfg.Pool.Name = name
	}
}

// WithCodecContext 让引擎共享给定的编解码上下文。
// 共享同一上下文的引擎必须有相同的类型注册。
func WithCodecContext(ctx *CodecContext) Option {
	return func(opt *options) {
		opt.cctx = ctx
	}
}

func WithInterner(interner *Interner) Option {
	return func(opt *options) {
		opt.interner = interner
	}
}

// WithClassChecker 在引擎创建时安装类型检查器，checker 必须并发安全。
func WithClassChecker(checker ClassChecker) Option {
	return func(opt *options) {
		opt.checker = checker
	}
}

// WithCompiledCodecFactory 设置编译型编解码器工厂，工厂未提供的类型回退到反射实现。
func WithCompiledCodecFactory(factory CompiledCodecFactory) Option {
	return func(opt *options) {
		opt.factory = factory
	}
}
