// Package transcribe is a stateless bridge to a whisper-style speech model.
// Every call loads the model, decodes the audio, runs synchronously and
// returns the concatenated segment text.
package transcribe

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrFileNotFound        = errors.New("file not found")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInit                = errors.New("failed to initialize whisper context")
	// ErrNotBuilt is wrapped by the default loader and decoder.
	ErrNotBuilt = errors.New("whisper support not built")
)

const defaultLanguage = "en"

// Segment is one decoded span of speech.
type Segment struct {
	Start, End time.Duration
	Text       string
}

// Params tune one run.
type Params struct {
	Language  string
	Translate bool
	Threads   int
}

// Model is a loaded speech model.
type Model interface {
	Multilingual() bool
	// Transcribe runs the model over mono 16kHz float32 PCM.
	Transcribe(pcm []float32, p Params) ([]Segment, error)
	Close() error
}

type Loader interface {
	Load(modelPath string) (Model, error)
}

// Decoder reads an audio file into mono 16kHz float32 PCM.
type Decoder interface {
	Decode(audioPath string) ([]float32, error)
}

// Adapter holds no per-call state; its zero value uses the stub runtime and
// English.
type Adapter struct {
	Loader   Loader
	Decoder  Decoder
	Language string
	Threads  int
	Logger   zerolog.Logger
}

// Transcribe returns the trimmed text of audioPath using the model at modelPath.
func (a Adapter) Transcribe(modelPath, audioPath string) (string, error) {
	for _, p := range []string{modelPath, audioPath} {
		if fi, err := os.Stat(p); err != nil || fi.IsDir() {
			return "", fmt.Errorf("%w: %q", ErrFileNotFound, p)
		}
	}
	lang := a.Language
	if lang == "" {
		lang = defaultLanguage
	}
	code, ok := LanguageCode(lang)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}

	loader, decoder := a.Loader, a.Decoder
	if loader == nil {
		loader = stub{}
	}
	if decoder == nil {
		decoder = stub{}
	}
	model, err := loader.Load(modelPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInit, err)
	}
	defer model.Close()

	pcm, err := decoder.Decode(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to read audio file %q: %w", audioPath, err)
	}
	if !model.Multilingual() && code != defaultLanguage {
		a.Logger.Warn().Str("language", code).Msg("model is not multilingual, ignoring language option")
		code = defaultLanguage
	}
	start := time.Now()
	segs, err := model.Transcribe(pcm, Params{Language: code, Threads: a.Threads})
	if err != nil {
		return "", fmt.Errorf("transcribe %q: %w", audioPath, err)
	}
	var sb strings.Builder
	for _, s := range segs {
		sb.WriteString(s.Text)
	}
	a.Logger.Debug().Int("segments", len(segs)).Dur("took", time.Since(start)).Msg("transcribed")
	return strings.TrimSpace(sb.String()), nil
}

// stub is the runtime used when no whisper binding is wired in.
type stub struct{}

func (stub) Load(string) (Model, error)       { return nil, ErrNotBuilt }
func (stub) Decode(string) ([]float32, error) { return nil, ErrNotBuilt }
