package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vzahanych/engagement-edge/internal/landmarks"
	"github.com/vzahanych/engagement-edge/internal/monitor"
	"github.com/vzahanych/engagement-edge/internal/ort"
)

var (
	framesPath   string
	predictModel string
	forceRemote  bool
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Run one prediction over recorded landmark frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPredict(cmd)
	},
}

func init() {
	predictCmd.Flags().StringVarP(&framesPath, "frames", "f", "", "JSON file with recorded frames (required)")
	predictCmd.Flags().StringVarP(&predictModel, "model", "m", "", "Model id to use instead of the active one")
	predictCmd.Flags().BoolVar(&forceRemote, "remote", false, "Send the frames to the remote service")
	_ = predictCmd.MarkFlagRequired("frames")
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command) error {
	frames, err := readFrames(framesPath)
	if err != nil {
		return err
	}

	cfgSvc, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	cfg := cfgSvc.Get()

	stateMgr, err := openState(cfg, log)
	if err != nil {
		return err
	}
	defer stateMgr.Close()

	runtime := ort.NewRuntime(ort.Config{
		SharedLibraryPath: cfg.Engagement.Runtime.SharedLibraryPath,
		IntraOpThreads:    cfg.Engagement.Runtime.IntraOpThreads,
	}, log)
	defer runtime.Close()

	pipeline, err := monitor.Build(cfg, stateMgr, runtime, log)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	pipeline.Registry.Restore(cmd.Context())

	mon := pipeline.Monitor
	if forceRemote {
		mon.ForceRemote()
	} else if err := mon.Initialize(cmd.Context(), predictModel); err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	pred, err := mon.Predict(cmd.Context(), frames)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pred)
}

// readFrames accepts either a bare frame array or an object with a frames field
func readFrames(path string) ([]landmarks.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("frames file is empty")
	}

	var frames []landmarks.Frame
	if data[0] == '{' {
		var wrapped struct {
			Frames []landmarks.Frame `json:"frames"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse frames: %w", err)
		}
		frames = wrapped.Frames
	} else if err := json.Unmarshal(data, &frames); err != nil {
		return nil, fmt.Errorf("failed to parse frames: %w", err)
	}

	if len(frames) == 0 {
		return nil, landmarks.ErrEmptySequence
	}
	return frames, nil
}
