package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocr-worker/internal/engines"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

var (
	recognizeEngine string
	recognizeMode   string
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <file>",
	Short: "Recognize one image locally and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		ctx := cmd.Context()
		registry := engines.Bootstrap(ctx, cfg, logging.NewLogger("engines"))
		proc, err := newProcessor(cfg, registry, nil)
		if err != nil {
			return err
		}

		req := &processor.RecognizeRequest{
			JobID:    uuid.New().String(),
			Filename: filepath.Base(args[0]),
			MimeType: processor.ResolveMimeType("", data),
			Image:    data,
		}

		var result interface{}
		if recognizeEngine == "" {
			result, err = proc.RecognizeBest(ctx, req)
		} else {
			kind, ok := ocr.ParseEngineKind(recognizeEngine)
			if !ok {
				return fmt.Errorf("unknown engine %q", recognizeEngine)
			}
			mode, ok := engines.ParseSpanMode(recognizeMode)
			if !ok {
				return fmt.Errorf("unknown span mode %q", recognizeMode)
			}
			result, err = proc.RecognizeWith(ctx, req, kind, mode)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	recognizeCmd.Flags().StringVar(&recognizeEngine, "engine", "",
		"run a single engine: tesseract, easyocr or trocr (default: all)")
	recognizeCmd.Flags().StringVar(&recognizeMode, "mode", "enhanced",
		"span detector mode: enhanced or standard")
}
