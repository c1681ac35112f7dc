package pubsub

import (
	"github.com/kelseyhightower/envconfig"
)

// LoadTracingConfigFromEnv loads tracing configuration from the PUBSUB_TRACING_*
// environment variables. Unparseable values fall back to the defaults.
func LoadTracingConfigFromEnv() TracingConfig {
	var config TracingConfig
	if err := envconfig.Process("PUBSUB_TRACING", &config); err != nil {
		return DefaultTracingConfig()
	}
	return config
}
