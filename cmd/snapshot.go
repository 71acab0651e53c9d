package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mjpeg-stream-server/internal/sensor"
)

var snapshotOut string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture one frame from the sensor to a JPEG file",
	RunE: func(c *cobra.Command, _ []string) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log)

		p, err := buildPipeline(cfg, logger)
		if err != nil {
			return err
		}
		jpg, meta, err := p.session.Capture()
		if err != nil {
			return err
		}
		if err := os.WriteFile(snapshotOut, jpg, 0o644); err != nil {
			return err
		}
		logger.Info("snapshot written",
			"file", snapshotOut,
			"bytes", len(jpg),
			"width", meta.Width,
			"height", meta.Height,
			"source_format", meta.Format)
		return nil
	},
}

var resolutionsCmd = &cobra.Command{
	Use:   "resolutions",
	Short: "List the supported frame sizes",
	Run: func(c *cobra.Command, _ []string) {
		for _, r := range sensor.Resolutions() {
			fmt.Fprintf(c.OutOrStdout(), "%-6s %4dx%d\n", r.Name, r.Width, r.Height)
		}
	},
}

func init() {
	addSensorFlags(snapshotCmd)
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "capture.jpg", "output file")
	rootCmd.AddCommand(snapshotCmd, resolutionsCmd)
}
