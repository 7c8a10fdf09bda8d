/**
 * OCR Worker - Main Entry Point
 *
 * Multi-engine OCR service. Every available engine reads the same image
 * concurrently and the highest-scoring text wins.
 *
 * Architecture:
 * - Fiber HTTP API with per-engine and multi-engine endpoints
 * - asynq task consumer and a Redis list consumer for Node producers
 * - Engine registry frozen at startup (Tesseract, span detector, Seq2Seq)
 * - Prometheus metrics and optional OTLP tracing
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"

	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ocr-worker",
	Short: "Multi-engine OCR worker",
	Long: `ocr-worker runs several OCR engines over the same image and returns
the text of the engine with the best quality score.

  ocr-worker serve              Run the HTTP API and queue consumers
  ocr-worker recognize a.png    Recognize one image and print JSON
  ocr-worker enqueue a.png      Submit an image to the task queue`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./ocr-worker.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log.level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recognizeCmd)
	rootCmd.AddCommand(enqueueCmd)
}

// loadConfig applies the global flags and sets up logging
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		if err := os.Setenv("OCR_CONFIG_FILE", cfgFile); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
