package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/config"
)

// globalFlags override values loaded from the config file and environment.
type globalFlags struct {
	configPath string
	logLevel   string
	dev        bool
	engine     string
	chromeBin  string
	controlURL string
	headful    bool
	engineArgs []string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&g.dev, "dev", false, "Development logging (console encoder)")
	fs.StringVar(&g.engine, "engine", "", "Browser engine: sandbox or chrome")
	fs.StringVar(&g.chromeBin, "chrome-bin", "", "Chrome executable (chrome engine)")
	fs.StringVar(&g.controlURL, "control-url", "", "DevTools URL of a running Chrome (chrome engine)")
	fs.BoolVar(&g.headful, "headful", false, "Show the Chrome window (chrome engine)")
	fs.StringArrayVar(&g.engineArgs, "engine-arg", nil, "Engine switch such as --load-images=no (repeatable)")
}

// load builds the configuration and applies the flags that were set.
func (g *globalFlags) load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = g.logLevel
	}
	if fs.Changed("dev") {
		cfg.Logging.Development = g.dev
	}
	if fs.Changed("engine") {
		cfg.Browser.Engine = g.engine
	}
	if fs.Changed("chrome-bin") {
		cfg.Browser.ChromeBin = g.chromeBin
	}
	if fs.Changed("control-url") {
		cfg.Browser.ControlURL = g.controlURL
	}
	if fs.Changed("headful") {
		cfg.Browser.Headful = g.headful
	}
	if fs.Changed("engine-arg") {
		cfg.Browser.Args = g.engineArgs
	}
	return cfg, cfg.Validate()
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "pilot",
		Short: "Drive headless browser sessions",
		Long: `pilot runs headless browser sessions that wait for pages and their
AJAX activity to settle before acting on them.

Available subcommands:
  serve - Serve the session HTTP API
  run   - Open a URL, wait for it to settle, take a screenshot and exit`,
		SilenceUsage: true,
	}
	g.register(root.PersistentFlags())

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newRunCmd(g))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
