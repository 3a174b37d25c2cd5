// Package config loads the configuration of the engine and the reference
// host through viper.
//
// # Configuration Structure
//
// Every key can be set in an optional YAML file or through a PLUGSTACK_
// environment variable, with dots replaced by underscores:
//
//	PLUGSTACK_LOG_LEVEL="info"            # debug, info, warn, error
//	PLUGSTACK_LOG_FORMAT="text"           # text, json
//	PLUGSTACK_METRICS_ENABLED="true"
//	PLUGSTACK_METRICS_ADDR=":9090"
//	PLUGSTACK_TRACING_ENABLED="true"
//	PLUGSTACK_TRACING_ENDPOINT="otel-collector:4317"
//	PLUGSTACK_RESOLVER_PLAN_CACHE_SIZE="128"
//	PLUGSTACK_RESOLVER_PLAN_CACHE_TTL="0s"
//	PLUGSTACK_HOST_MANIFEST="/etc/plugstack/stack.yaml"
//	PLUGSTACK_HOST_TICKS="1000000"
//	PLUGSTACK_HOST_INSTANCES="1"
//
// # Usage Example
//
//	v := config.New()
//	_ = v.BindPFlags(cmd.Flags())
//	cfg, err := config.Load(v, configFile)
//	if err != nil {
//		return err
//	}
//	logger := observability.NewLogger(cfg.Log.LogLevel(), observability.LogFormat(cfg.Log.Format), nil)
package config
