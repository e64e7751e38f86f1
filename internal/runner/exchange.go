package runner

import (
	"context"
	"io"

	"llamacore/internal/engine"
)

// exchange drives sequence 0 until end of generation, the predict limit, a
// full context or a stop word. Text that may begin a stop word is held back
// from out until it resolves.
func exchange(ctx context.Context, eng engine.Engine, p engine.Prompt, s engine.Sampling, opts Options) (string, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	if opts.ShowPrompt {
		if _, err := promptColor.Fprint(out, p.Text); err != nil {
			return "", err
		}
	}
	if err := eng.Begin(seq, p, s); err != nil {
		return "", err
	}
	defer eng.End(seq)

	nctx := eng.Info().NCtx
	var text string
	sent, decoded := 0, 0
	flush := func(upto int) error {
		if upto <= sent {
			return nil
		}
		_, err := io.WriteString(out, text[sent:upto])
		sent = upto
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return text, err
		}
		toks, err := eng.Step()
		if err != nil {
			return text, err
		}
		for _, tok := range toks {
			if tok.Seq != seq {
				continue
			}
			if tok.EOG {
				return text, flush(len(text))
			}
			decoded++
			prev := len(text)
			text += tok.Piece
			if len(s.Stop) > 0 {
				if idx, _ := engine.FindStop(text, s.Stop, prev-engine.MaxStopLen(s.Stop)); idx >= 0 {
					text = text[:idx]
					sent = min(sent, idx)
					return text, flush(len(text))
				}
			}
			if err := flush(len(text) - engine.PartialStop(text, s.Stop)); err != nil {
				return text, err
			}
			if (s.NPredict > 0 && decoded >= s.NPredict) || len(p.Tokens)+decoded >= nctx {
				return text, flush(len(text))
			}
		}
	}
}
