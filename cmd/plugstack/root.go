package main

import (
	"fmt"
	"io"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/platinummonkey/plugstack/pkg/builtin"
	"github.com/platinummonkey/plugstack/pkg/config"
	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// rootOptions are shared by every subcommand
type rootOptions struct {
	configFile string
	v          *viper.Viper
	registry   *plugins.Registry

	out    io.Writer
	errOut io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	o := &rootOptions{
		v:        config.New(),
		registry: plugins.Default(),
		out:      out,
		errOut:   errOut,
	}

	cmd := &cobra.Command{
		Use:   "plugstack",
		Short: "Compose plugins into a stack and drive a tick loop through it",
		Long: heredoc.Doc(`
			plugstack resolves a manifest of plugin kinds into a stack, compiles
			a dispatch chain for every hook and runs a reference host loop
			through it.

			Configuration is read from --config, PLUGSTACK_* environment
			variables and flags, flags taking precedence.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configFile, "config", "", "Path to a YAML configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")
	flags.String("manifest", "", "Path to the stack manifest (built-in counter, perf and trace when empty)")
	o.bindFlags(flags, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"manifest":   "host.manifest",
	})

	cmd.AddCommand(
		newRunCommand(o),
		newInspectCommand(o),
		newVersionCommand(o),
	)
	return cmd
}

// load reads the configuration and builds the logger
// bindFlags binds each flag to its configuration key so that a flag set on
// the command line overrides the file and the environment
func (o *rootOptions) bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := o.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("cannot bind flag --%s: %v", name, err))
		}
	}
}

func (o *rootOptions) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(o.v, o.configFile)
	if err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(cfg.Log.LogLevel(), observability.LogFormat(cfg.Log.Format), o.errOut)
	return cfg, logger, nil
}

// manifest loads the configured manifest, or the built-in default
func (o *rootOptions) manifest(cfg *config.Config) (*plugins.Manifest, error) {
	if cfg.Host.Manifest == "" {
		return defaultManifest(), nil
	}
	m, err := plugins.LoadManifest(cfg.Host.Manifest)
	if err != nil {
		return nil, err
	}
	if m.Config == nil {
		m.Config = plugins.Config{}
	}
	if !m.Config.Has("manifest.path") {
		m.Config["manifest.path"] = cfg.Host.Manifest
	}
	return m, nil
}

func defaultManifest() *plugins.Manifest {
	return &plugins.Manifest{
		Plugins: []plugins.ManifestEntry{
			{Kind: builtin.CounterID},
			{Kind: builtin.PerfID},
			{Kind: builtin.TraceID},
		},
		Config: plugins.Config{},
	}
}
