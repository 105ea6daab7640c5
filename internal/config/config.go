package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hongjun500/concord-go/internal/bus/redisstream"
	"github.com/hongjun500/concord-go/internal/gateway"
	"github.com/hongjun500/concord-go/internal/protocol"
)

type Config struct {
	Token      string  `yaml:"token"`
	Intents    Intents `yaml:"intents"`
	GatewayURL string  `yaml:"gateway_url"`
	APIVersion int     `yaml:"api_version"`
	Encoding   string  `yaml:"encoding"`

	ReconnectAttempts int           `yaml:"reconnect_attempts"` // 0 不重连
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	HelloTimeout      time.Duration `yaml:"hello_timeout"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	Resume            bool          `yaml:"resume"`

	LogLevel    string `yaml:"log_level"`
	LogEncoding string `yaml:"log_encoding"`
	MetricsAddr string `yaml:"metrics_addr"`

	Redis Redis `yaml:"redis"`

	// 解析环境变量时遇到的错误，Validate 一并报告
	loadErrs []error
}

type Redis struct {
	Addr   string   `yaml:"addr"`
	DB     int      `yaml:"db"`
	Stream string   `yaml:"stream"`
	Group  string   `yaml:"group"`
	MaxLen int64    `yaml:"max_len"`
	Events []string `yaml:"events"`
}

// Intents yaml 里可以写整数、逗号分隔的字符串或名称列表
type Intents struct {
	protocol.IntentSet
}

func (i *Intents) UnmarshalYAML(n *yaml.Node) error {
	var raw string
	switch n.Kind {
	case yaml.ScalarNode:
		raw = n.Value
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return fmt.Errorf("intents: %w", err)
		}
		raw = strings.Join(names, ",")
	default:
		return fmt.Errorf("intents: line %d: expect integer or list of names", n.Line)
	}
	set, err := protocol.ParseIntentSet(raw)
	if err != nil {
		return fmt.Errorf("intents: line %d: %w", n.Line, err)
	}
	i.IntentSet = set
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load 从环境变量读取配置，未设置的取默认值
func Load() *Config {
	c := &Config{
		Token:       os.Getenv("CONCORD_TOKEN"),
		GatewayURL:  getEnv("CONCORD_GATEWAY_URL", gateway.DefaultGatewayURL),
		Encoding:    getEnv("CONCORD_ENCODING", protocol.Json),
		LogLevel:    getEnv("CONCORD_LOG_LEVEL", "info"),
		LogEncoding: getEnv("CONCORD_LOG_ENCODING", "json"),
		MetricsAddr: getEnv("CONCORD_METRICS_ADDR", ""),
		Redis: Redis{
			Addr:   getEnv("CONCORD_REDIS_ADDR", ""),
			Stream: getEnv("CONCORD_REDIS_STREAM", redisstream.DefaultStream),
			Group:  getEnv("CONCORD_REDIS_GROUP", redisstream.DefaultGroup),
		},
	}

	set, err := protocol.ParseIntentSet(getEnv("CONCORD_INTENTS", "GUILDS,GUILD_MESSAGES"))
	c.collect("CONCORD_INTENTS", err)
	c.Intents = Intents{set}

	c.APIVersion = c.envInt("CONCORD_API_VERSION", gateway.DefaultAPIVersion)
	c.ReconnectAttempts = c.envInt("CONCORD_RECONNECT_ATTEMPTS", gateway.DefaultReconnectAttempts)
	c.Redis.DB = c.envInt("CONCORD_REDIS_DB", 0)
	c.BackoffBase = c.envDuration("CONCORD_BACKOFF_BASE", gateway.DefaultBackoffBase)
	c.BackoffMax = c.envDuration("CONCORD_BACKOFF_MAX", gateway.DefaultBackoffMax)
	c.HelloTimeout = c.envDuration("CONCORD_HELLO_TIMEOUT", gateway.DefaultHelloTimeout)
	c.ReadyTimeout = c.envDuration("CONCORD_READY_TIMEOUT", gateway.DefaultReadyTimeout)
	c.WriteTimeout = c.envDuration("CONCORD_WRITE_TIMEOUT", 10*time.Second)
	c.ReadTimeout = c.envDuration("CONCORD_READ_TIMEOUT", 0)

	resume, err := strconv.ParseBool(getEnv("CONCORD_RESUME", "false"))
	c.collect("CONCORD_RESUME", err)
	c.Resume = resume
	return c
}

// LoadFile 在环境变量配置之上叠加 yaml 文件；文件中出现的字段优先
func LoadFile(path string) (*Config, error) {
	c := Load()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) collect(key string, err error) {
	if err != nil {
		c.loadErrs = append(c.loadErrs, fmt.Errorf("%s: %w", key, err))
	}
}

func (c *Config) envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.collect(key, err)
		return def
	}
	return n
}

func (c *Config) envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.collect(key, err)
		return def
	}
	return d
}

// Validate 一次性报告所有问题
func (c *Config) Validate() error {
	errs := append([]error(nil), c.loadErrs...)
	if c.Token == "" {
		errs = append(errs, errors.New("token is required (CONCORD_TOKEN)"))
	}
	if c.GatewayURL == "" {
		errs = append(errs, errors.New("gateway_url is empty"))
	}
	if c.APIVersion <= 0 {
		errs = append(errs, fmt.Errorf("api_version must be positive, got %d", c.APIVersion))
	}
	if _, err := protocol.NewCodec(c.Encoding); err != nil {
		errs = append(errs, err)
	}
	if c.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect_attempts must be >= 0, got %d", c.ReconnectAttempts))
	}
	if c.BackoffBase <= 0 {
		errs = append(errs, fmt.Errorf("backoff_base must be positive, got %s", c.BackoffBase))
	}
	if c.BackoffMax < c.BackoffBase {
		errs = append(errs, fmt.Errorf("backoff_max %s is below backoff_base %s", c.BackoffMax, c.BackoffBase))
	}
	if c.HelloTimeout <= 0 || c.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("hello_timeout and ready_timeout must be positive"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("read_timeout and write_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// String 打印配置时隐藏 token
func (c *Config) String() string {
	token := ""
	if c.Token != "" {
		token = "***"
	}
	return fmt.Sprintf("Config{token=%s intents=%s gateway=%s v=%d resume=%v redis=%q metrics=%q}",
		token, c.Intents.IntentSet, c.GatewayURL, c.APIVersion, c.Resume, c.Redis.Addr, c.MetricsAddr)
}
