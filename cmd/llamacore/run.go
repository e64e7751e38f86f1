package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"llamacore/internal/runner"
	"llamacore/pkg/types"
)

type runOptions struct {
	engine     string
	prompt     string
	system     string
	chat       bool
	nPredict   int
	stop       []string
	showPrompt bool
}

func newRunCmd(a *app) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] -- <engine args>",
		Short: "Run one generation in-process and print it as it is produced",
		Example: "  llamacore run --prompt 'Once upon a time' -- -m ~/models/llm/tiny.gguf -n 64\n" +
			"  llamacore run --chat --system 'Be brief.' --prompt 'Hi' -- -m tiny.gguf",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, a, o, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.engine, "engine", defaultEngine(), "Inference engine: echo|llama")
	f.StringVarP(&o.prompt, "prompt", "p", "", "Prompt text")
	f.StringVar(&o.system, "system", "", "System message (implies --chat)")
	f.BoolVar(&o.chat, "chat", false, "Apply the model chat template to the prompt")
	f.IntVarP(&o.nPredict, "n-predict", "n", 0, "Tokens to predict (overrides engine -n)")
	f.StringArrayVar(&o.stop, "stop", nil, "Stop string (repeatable)")
	f.BoolVar(&o.showPrompt, "show-prompt", false, "Echo the rendered prompt before the output")
	return cmd
}

func runOnce(cmd *cobra.Command, a *app, o *runOptions, engineArgs []string) error {
	engineName := pick(cmd.Flags(), "engine", o.engine, a.cfg.Engine)
	loader, backend, err := loaderFor(engineName)
	if err != nil {
		return err
	}
	opts := runner.Options{
		Args:       append(append([]string(nil), a.cfg.EngineArgs...), engineArgs...),
		Prompt:     o.prompt,
		NPredict:   o.nPredict,
		Stop:       o.stop,
		Out:        cmd.OutOrStdout(),
		ShowPrompt: o.showPrompt,
	}
	if o.chat || o.system != "" {
		if o.system != "" {
			opts.Messages = append(opts.Messages, types.ChatMessage{Role: "system", Content: o.system})
		}
		opts.Messages = append(opts.Messages, types.ChatMessage{Role: "user", Content: o.prompt})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	r := runner.New(runner.Config{Loader: loader, Backend: backend, Logger: a.log})
	if err := r.Start(ctx, opts); err != nil {
		return err
	}
	_, werr := r.Wait()
	if err := r.Stop(); werr == nil {
		werr = err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	if ctx.Err() != nil {
		// interrupted: the partial output is the result
		return nil
	}
	return werr
}
