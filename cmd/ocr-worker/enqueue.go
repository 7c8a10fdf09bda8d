package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
)

var (
	enqueueJobID  string
	enqueueEngine string
	enqueueMode   string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <file>",
	Short: "Submit an image to the recognition task queue",
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

		enqueuer, err := queue.NewEnqueuer(cfg.Redis.URL, cfg.Queue.Name, cfg.Queue.ResultTTL)
		if err != nil {
			return err
		}
		defer enqueuer.Close()

		jobID := enqueueJobID
		if jobID == "" {
			jobID = uuid.New().String()
		}

		info, err := enqueuer.EnqueueRecognize(cmd.Context(), &queue.RecognizeTaskPayload{
			JobID:    jobID,
			Filename: filepath.Base(args[0]),
			MimeType: processor.ResolveMimeType("", data),
			Engine:   enqueueEngine,
			Mode:     enqueueMode,
			Image:    data,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s (task %s, queue %s)\n", jobID, info.ID, info.Queue)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueJobID, "job-id", "", "job id (default: random uuid)")
	enqueueCmd.Flags().StringVar(&enqueueEngine, "engine", "", "pin a single engine: tesseract, easyocr or trocr")
	enqueueCmd.Flags().StringVar(&enqueueMode, "mode", "", "span detector mode: enhanced or standard")
}
