package someipc

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Config is the [someipc] section of a TOML config file, plus the raw text
// of every other section for application use via ParseConfigSection.
type Config struct {
	// ClientID tags requests issued by proxies of this process.
	ClientID uint16 `toml:"client_id"`

	// SessionLimit bounds the session id space; 0 selects the default.
	SessionLimit uint32 `toml:"session_limit"`

	WriteFlattenLimit int `toml:"write_flatten_limit"`

	// Discovery lists etcd endpoints for offer publication and resolution.
	Discovery []string `toml:"discovery"`

	// TraceDB is the sqlite file trace spans are exported to.
	TraceDB string `toml:"trace_db"`

	LogLevel string `toml:"log_level"`

	// Sections holds the re-encoded text of all sections, keyed by name.
	Sections map[string]string `toml:"-"`
}

const configKey = "github.com/kanengo/someipc"
const shortConfigKey = "someipc"

// ParseConfig 解析配置 获取 someipc section配置，以及缓存其他各个section配置原始数据
// 后续再用 ParseConfigSection 解析对应的section配置
func ParseConfig(file string, input string) (*Config, error) {
	var sections map[string]toml.Primitive
	_, err := toml.Decode(input, &sections)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}

	config := &Config{Sections: make(map[string]string)}
	for k, v := range sections {
		var buf strings.Builder
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, fmt.Errorf("encoding section %q: %v", k, err)
		}
		config.Sections[k] = buf.String()
	}

	if err := ParseConfigSection(configKey, shortConfigKey, config.Sections, config); err != nil {
		return nil, err
	}

	if _, err := parseLogLevel(config.LogLevel); err != nil {
		return nil, err
	}

	return config, nil
}

// ParseConfigSection 解析某个section 配置
func ParseConfigSection(key, shortKey string, sections map[string]string, dst any) error {
	section, ok := sections[key]
	if shortKey != "" {
		if shortKeySection, ok2 := sections[shortKey]; ok2 {
			if ok {
				return fmt.Errorf("conflicting sections %q and %q", key, shortKey)
			}
			key, section, ok = shortKey, shortKeySection, ok2
		}
	}
	if !ok {
		return nil
	}

	md, err := toml.Decode(section, dst)
	if err != nil {
		return err
	}

	if unknown := md.Undecoded(); len(unknown) > 0 {
		return fmt.Errorf("section %q has unknown keys %v", key, unknown)
	}

	if x, ok := dst.(interface{ Validate() error }); ok {
		if err := x.Validate(); err != nil {
			return fmt.Errorf("section %q is invalid: %w", key, err)
		}
	}

	return nil
}

// DiscoveryClient connects to the configured etcd endpoints.
func (c *Config) DiscoveryClient() (*clientv3.Client, error) {
	if len(c.Discovery) == 0 {
		return nil, fmt.Errorf("no discovery endpoints configured")
	}

	return clientv3.New(clientv3.Config{
		Endpoints:   c.Discovery,
		DialTimeout: 5 * time.Second,
	})
}

// Level returns the configured slog level; the zero value is info.
func (c *Config) Level() slog.Level {
	l, _ := parseLogLevel(c.LogLevel)
	return l
}

func parseLogLevel(logLevel string) (slog.Level, error) {
	cl := logLevel
	l := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		l = slog.LevelDebug
	case "info", "":
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	case "fatal":
		l = slog.LevelError + 1
	default:
		return 0, fmt.Errorf("invalid log level: %q", cl)
	}

	return l, nil
}
