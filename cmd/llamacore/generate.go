package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"llamacore/internal/bridge"
	"llamacore/pkg/types"
)

type generateOptions struct {
	engine   string
	body     string
	prompt   string
	chat     bool
	nPredict int
}

func newGenerateCmd(a *app) *cobra.Command {
	o := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate [flags] -- <engine args>",
		Short: "Send one request body through the embedding bridge and print the response",
		Example: "  llamacore generate --prompt 'Hello' -- -m tiny.gguf\n" +
			"  llamacore generate --chat --body '{\"messages\":[{\"role\":\"user\",\"content\":\"Hi\"}],\"stream\":true}' -- -m tiny.gguf",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, a, o, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.engine, "engine", defaultEngine(), "Inference engine: echo|llama")
	f.StringVar(&o.body, "body", "", "Raw JSON request body (overrides --prompt)")
	f.StringVarP(&o.prompt, "prompt", "p", "", "Prompt text")
	f.BoolVar(&o.chat, "chat", false, "Use a chat session instead of a native completion")
	f.IntVarP(&o.nPredict, "n-predict", "n", -1, "Tokens to predict")
	return cmd
}

func (o *generateOptions) requestBody() (string, error) {
	if o.body != "" {
		return o.body, nil
	}
	if o.prompt == "" {
		return "", errors.New("either --body or --prompt is required")
	}
	var v any = map[string]any{"prompt": o.prompt, "n_predict": o.nPredict}
	if o.chat {
		v = map[string]any{
			"messages":  []types.ChatMessage{{Role: "user", Content: o.prompt}},
			"n_predict": o.nPredict,
		}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func runGenerate(cmd *cobra.Command, a *app, o *generateOptions, engineArgs []string) error {
	body, err := o.requestBody()
	if err != nil {
		return err
	}
	loader, backend, err := loaderFor(pick(cmd.Flags(), "engine", o.engine, a.cfg.Engine))
	if err != nil {
		return err
	}
	core := bridge.New(bridge.Config{Loader: loader, Backend: backend, Logger: a.log})
	args := append(append([]string(nil), a.cfg.EngineArgs...), engineArgs...)
	if res := core.Start(args); !res.Success {
		return resultError(res)
	}
	defer core.Stop()

	out := cmd.OutOrStdout()
	if !o.chat {
		res := core.Generate(body)
		if !res.Success {
			return resultError(res)
		}
		_, err := fmt.Fprintln(out, res.Content)
		return err
	}

	id, frames := core.NewSession()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printFrames(out, frames)
	}()
	res := core.Chat(id, body)
	<-printed
	if !res.Success {
		return resultError(res)
	}
	return nil
}

// printFrames writes each frame's payload on its own line.
func printFrames(w io.Writer, frames <-chan string) {
	for frame := range frames {
		data := strings.TrimSpace(strings.TrimPrefix(frame, "data: "))
		if data != "" {
			fmt.Fprintln(w, data)
		}
	}
}

// resultError turns a failed bridge Result into an error carrying the
// envelope message.
func resultError(res bridge.Result) error {
	var e types.ErrorResponse
	if err := json.Unmarshal([]byte(res.Content), &e); err == nil && e.Error.Message != "" {
		return fmt.Errorf("%s (%s)", e.Error.Message, e.Error.Type)
	}
	return fmt.Errorf("request failed: %s", res.Content)
}
