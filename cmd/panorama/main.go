// Command panorama captures frames from a camera and stitches them into a
// panorama or a mosaic, either as an HTTP service or from the command line.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-panorama/internal/config"
	"github.com/teslashibe/go-panorama/internal/log"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "panorama",
	Short:         "Frame capture and panorama/mosaic composition",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `panorama collects frames from a camera, an image directory or a synthetic
source and composes them into a single image, either a stitched panorama or a
square mosaic grid.

Run "panorama serve" for the HTTP/WebSocket service, "panorama stitch" to
compose image files offline, or "panorama ctl" to drive a running server.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PANORAMA_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: debug, info, warn, error")
}

// loadConfig loads the config file and initializes logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log.Init(cfg.LogLevel)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
