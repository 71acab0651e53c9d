// Package cmd provides the command-line interface for the camera stream
// server.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var (
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
)

// rootCmd serves the stream when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "camstream",
	Short: "camstream serves a camera sensor as an MJPEG stream over HTTP.",
	Long: `camstream captures frames from a sensor at a fixed rate and serves ` +
		`them to a bounded set of HTTP clients as multipart/x-mixed-replace ` +
		`MJPEG, with single-frame snapshots and a WebSocket variant.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file with CAMSTREAM_* overrides")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "log format: text or json")

	addSensorFlags(rootCmd)
	addServeFlags(rootCmd)
}

// Execute runs the command line and exits through atexit so registered
// cleanup runs on every path.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
