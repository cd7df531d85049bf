package codec

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// envConfig is the environment-driven tunable surface: GPU kernel
// selection and default queue/worker sizing, read from HWCODEC_*
// variables once per process and cached.
type envConfig struct {
	// TransformKernel selects the GPU NV12->RGB24 kernel a session's
	// transform pipeline attempts before falling back to the CPU path:
	// "auto" (platform default), "metal", "cuda", or "cpu" (disables the
	// GPU fast path entirely).
	TransformKernel string `mapstructure:"transform_kernel"`

	// TransformWorkers/TransformQueueCapacity are the default worker-pool
	// size and bounded output queue capacity used when a session's
	// DecodeTransformOptions doesn't override them.
	TransformWorkers       int `mapstructure:"transform_workers"`
	TransformQueueCapacity int `mapstructure:"transform_queue_capacity"`

	// DecodeReadyQueueCapacity/EncodeReadyQueueCapacity size the session
	// façade's ready queue.
	DecodeReadyQueueCapacity int `mapstructure:"decode_ready_queue_capacity"`
	EncodeReadyQueueCapacity int `mapstructure:"encode_ready_queue_capacity"`
}

var (
	envConfigOnce   sync.Once
	envConfigCached envConfig
)

func defaultEnvConfig() envConfig {
	return envConfig{
		TransformKernel:          "auto",
		TransformWorkers:         2,
		TransformQueueCapacity:   32,
		DecodeReadyQueueCapacity: decodeReadyQueueCapacity,
		EncodeReadyQueueCapacity: encodeReadyQueueCapacity,
	}
}

// loadEnvConfig reads HWCODEC_* environment variables into envConfig. A
// dedicated viper instance is used (rather than the global viper.GetViper)
// so this package never competes with a host application's own config
// tree for the same keys.
func loadEnvConfig() envConfig {
	cfg := defaultEnvConfig()

	v := viper.New()
	v.SetEnvPrefix("HWCODEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("transform_kernel", cfg.TransformKernel)
	v.SetDefault("transform_workers", cfg.TransformWorkers)
	v.SetDefault("transform_queue_capacity", cfg.TransformQueueCapacity)
	v.SetDefault("decode_ready_queue_capacity", cfg.DecodeReadyQueueCapacity)
	v.SetDefault("encode_ready_queue_capacity", cfg.EncodeReadyQueueCapacity)

	if err := v.Unmarshal(&cfg); err != nil {
		sessionLog.Warn("envconfig unmarshal failed, using defaults", "error", err)
		return defaultEnvConfig()
	}
	cfg.TransformKernel = strings.ToLower(strings.TrimSpace(cfg.TransformKernel))
	if cfg.TransformWorkers < 1 {
		cfg.TransformWorkers = 1
	}
	if cfg.TransformQueueCapacity < 1 {
		cfg.TransformQueueCapacity = 1
	}
	return cfg
}

// getEnvConfig returns the process-wide cached envConfig, loading it on
// first use.
func getEnvConfig() envConfig {
	envConfigOnce.Do(func() {
		envConfigCached = loadEnvConfig()
	})
	return envConfigCached
}
