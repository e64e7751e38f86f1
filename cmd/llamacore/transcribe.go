package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"llamacore/internal/bridge"
	"llamacore/internal/transcribe"
)

func newTranscribeCmd(a *app) *cobra.Command {
	var (
		model    string
		language string
		threads  int
	)
	cmd := &cobra.Command{
		Use:   "transcribe [flags] <audio file>",
		Short: "Transcribe an audio file with a whisper model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model = pick(cmd.Flags(), "model", model, a.cfg.WhisperModel)
			language = pick(cmd.Flags(), "language", language, a.cfg.Language)
			core := bridge.New(bridge.Config{
				Logger:      a.log,
				Transcriber: transcribe.Adapter{Language: language, Threads: threads, Logger: a.log},
			})
			res := core.Transcribe(model, args[0])
			if !res.Success {
				return resultError(res)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&model, "model", "m", "", "Whisper model file")
	f.StringVarP(&language, "language", "l", "en", `Spoken language code or name, or "auto"`)
	f.IntVarP(&threads, "threads", "t", 0, "Decoder threads (0=runtime default)")
	return cmd
}
