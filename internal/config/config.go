package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"storybook/internal/pipeline"
	"storybook/internal/provider"
	"storybook/internal/retry"
)

// maxRetryAttempts 重试次数上限, 避免退避时间失控
const maxRetryAttempts = 10

// EnvPrefix 环境变量前缀, e.g. STORYBOOK_SERVER_ADDR
const EnvPrefix = "STORYBOOK"

// SetDefaults 注册所有配置项的默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("story.provider", provider.Gemini)
	v.SetDefault("story.model", "") // empty: provider default

	v.SetDefault("image.provider", provider.Gemini)
	v.SetDefault("image.primary_model", "")
	v.SetDefault("image.fallback_model", "")
	v.SetDefault("image.size", "1024x1024")
	v.SetDefault("image.min_interval", time.Duration(0))
	v.SetDefault("single_image.model", "gemini-3-pro-image-preview")

	v.SetDefault("pipeline.concurrency", 3)
	v.SetDefault("pipeline.default_page_count", 5)
	v.SetDefault("pipeline.max_page_count", 12)
	v.SetDefault("pipeline.refine_cover_prompt", true)
	v.SetDefault("pipeline.cover_enabled", true)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", 700*time.Millisecond)

	v.SetDefault("ark.base_url", "")
	v.SetDefault("ark.region", "cn-beijing")
	v.SetDefault("ark.mock", false)
	v.SetDefault("ark.http_timeout", 60*time.Second)

	v.SetDefault("provider.client_ttl", 30*time.Minute)
}

// Config 服务运行配置
type Config struct {
	v *viper.Viper
}

// Load 读取配置; path 为空时在 $HOME/.storybook 和当前目录查找 storybook.yaml, 找不到时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("storybook")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.storybook")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	c := &Config{v: v}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	def, maxPages := c.DefaultPageCount(), c.MaxPageCount()
	if maxPages < 1 {
		return fmt.Errorf("pipeline.max_page_count must be positive, got %d", maxPages)
	}
	if def < 1 || def > maxPages {
		return fmt.Errorf("pipeline.default_page_count %d out of range 1..%d", def, maxPages)
	}
	if n := c.v.GetInt("retry.attempts"); n < 1 || n > maxRetryAttempts {
		return fmt.Errorf("retry.attempts %d out of range 1..%d", n, maxRetryAttempts)
	}
	if c.v.GetInt("pipeline.concurrency") < 1 {
		return errors.New("pipeline.concurrency must be at least 1")
	}
	return nil
}

// Viper 暴露底层实例, 供命令行 flag 绑定
func (c *Config) Viper() *viper.Viper { return c.v }

func (c *Config) ServerAddr() string { return c.v.GetString("server.addr") }

func (c *Config) ShutdownTimeout() time.Duration { return c.v.GetDuration("server.shutdown_timeout") }

func (c *Config) DefaultPageCount() int { return c.v.GetInt("pipeline.default_page_count") }

func (c *Config) MaxPageCount() int { return c.v.GetInt("pipeline.max_page_count") }

// Log 日志配置
func (c *Config) Log() LogConfig {
	return LogConfig{
		Level:  c.v.GetString("log.level"),
		Format: c.v.GetString("log.format"),
		File:   c.v.GetString("log.file"),
	}
}

// Pipeline 编排器配置
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Concurrency: c.v.GetInt("pipeline.concurrency"),
		Retry: retry.Policy{
			Attempts:  c.v.GetInt("retry.attempts"),
			BaseDelay: c.v.GetDuration("retry.base_delay"),
		},
		RefineCoverPrompt: c.v.GetBool("pipeline.refine_cover_prompt"),
		CoverEnabled:      c.v.GetBool("pipeline.cover_enabled"),
	}
}

// Provider 模型绑定配置
func (c *Config) Provider() provider.Config {
	return provider.Config{
		StoryProvider:      c.v.GetString("story.provider"),
		StoryModel:         c.v.GetString("story.model"),
		ImageProvider:      c.v.GetString("image.provider"),
		ImagePrimaryModel:  c.v.GetString("image.primary_model"),
		ImageFallbackModel: c.v.GetString("image.fallback_model"),
		ImageSize:          c.v.GetString("image.size"),
		ImageMinInterval:   c.v.GetDuration("image.min_interval"),
		SingleImageModel:   c.v.GetString("single_image.model"),
		ArkBaseURL:         c.v.GetString("ark.base_url"),
		ArkRegion:          c.v.GetString("ark.region"),
		ArkMock:            c.v.GetBool("ark.mock"),
		HTTPTimeout:        c.v.GetDuration("ark.http_timeout"),
		ClientTTL:          c.v.GetDuration("provider.client_ttl"),
	}
}
