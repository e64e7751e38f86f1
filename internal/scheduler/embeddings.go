package scheduler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"

	"llamacore/internal/engine"
	"llamacore/internal/sink"
	"llamacore/pkg/types"
)

// Embeddings handles the native /embeddings endpoint.
func (s *Scheduler) Embeddings(ctx context.Context, body []byte, snk sink.Sink) error {
	defer snk.Complete()
	return s.finalize("embedding", s.embeddings(ctx, body, snk, false))
}

// EmbeddingsOAI handles /v1/embeddings. A request using the native
// "content" field gets the native response shape.
func (s *Scheduler) EmbeddingsOAI(ctx context.Context, body []byte, snk sink.Sink) error {
	defer snk.Complete()
	return s.finalize("oai_embedding", s.embeddings(ctx, body, snk, true))
}

func (s *Scheduler) embeddings(ctx context.Context, body []byte, snk sink.Sink, oaiEndpoint bool) *Error {
	var (
		req types.EmbeddingRequest
		ts  []*task
		box *inbox
		oai bool
		b64 bool
	)
	e := s.admit(func() *Error {
		if !s.info.Embedding {
			return newError(KindNotSupported, "this server does not support embeddings, start it with --embeddings")
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return invalidRequest("invalid request body: %v", err)
		}
		raw := req.Input
		if !present(raw) {
			raw = req.Content
			if !present(raw) {
				return invalidRequest("'input' or 'content' is required")
			}
		} else {
			oai = oaiEndpoint
		}
		if oai && s.info.Pooling == engine.PoolingNone {
			return invalidRequest("pooling type 'none' is not OAI compatible, use a different pooling type")
		}
		switch req.EncodingFormat {
		case "", "float":
		case "base64":
			b64 = true
		default:
			return invalidRequest("'encoding_format' must be either float or base64")
		}
		norm := s.params.EmbdNormalize
		if req.EmbdNormalize != nil {
			norm = *req.EmbdNormalize
		}
		prompts, e := s.tokenizePrompts(raw, "input")
		if e != nil {
			if e == errEmptyPrompt {
				return invalidRequest("input content cannot be empty")
			}
			return e
		}
		nctx := s.slotCtx()
		for _, p := range prompts {
			if len(p.Tokens) >= nctx {
				return exceedsContext(len(p.Tokens), nctx)
			}
		}
		model := req.Model
		if model == "" {
			model = s.modelName()
		}
		f := formatNative
		if oai {
			f = formatOAIEmbedding
		}
		ts = make([]*task, len(prompts))
		for i, p := range prompts {
			ts[i] = &task{index: i, kind: taskEmbedding, format: f, model: model, prompt: p, slotID: -1, normalize: norm}
		}
		box, e = s.submit(ts, false)
		return e
	})
	if e != nil {
		s.writeError(snk, e, false)
		return e
	}
	return s.deliverEmbeddings(ctx, snk, ts, box, oai, b64)
}

func (s *Scheduler) deliverEmbeddings(ctx context.Context, snk sink.Sink, ts []*task, box *inbox, oai, b64 bool) *Error {
	defer func() {
		s.waiters.remove(idsOf(ts))
		waitingSets.WithLabelValues(s.label).Set(float64(s.waiters.len()))
	}()
	w := s.newWaiter(ctx, box, snk)
	defer w.stop()
	rs, e := s.collect(w, ts)
	if e != nil {
		if e.Kind != KindCancelled {
			s.writeError(snk, e, false)
		}
		return e
	}
	var payload []byte
	var err error
	if oai {
		resp := types.OAIEmbeddingResponse{Object: "list", Model: ts[0].model}
		for i, r := range rs {
			var vec any = r.embedding[0]
			if b64 {
				vec = encodeBase64(r.embedding[0])
			}
			resp.Data = append(resp.Data, types.OAIEmbeddingItem{Object: "embedding", Index: ts[i].index, Embedding: vec})
			resp.Usage.PromptTokens += r.nPrompt
		}
		resp.Usage.TotalTokens = resp.Usage.PromptTokens
		payload, err = json.Marshal(resp)
	} else {
		items := make([]types.EmbeddingItem, len(rs))
		for i, r := range rs {
			var vecs any = r.embedding
			if b64 {
				enc := make([]string, len(r.embedding))
				for j, v := range r.embedding {
					enc[j] = encodeBase64(v)
				}
				vecs = enc
			}
			items[i] = types.EmbeddingItem{Index: ts[i].index, Embedding: vecs}
		}
		payload, err = json.Marshal(items)
	}
	if err != nil {
		e := newError(KindEngineFailure, "failed to encode result: %v", err)
		s.writeError(snk, e, false)
		return e
	}
	snk.Write(sink.Event{Payload: payload})
	return nil
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// normalize scales vec in place: -1 leaves it, 0 scales the largest
// magnitude to the int16 range, 1 is taxicab, 2 euclidean and any larger
// value the matching p-norm.
func normalize(vec []float32, mode int) []float32 {
	var sum float64
	switch {
	case mode < 0:
		return vec
	case mode == 0:
		for _, v := range vec {
			sum = math.Max(sum, math.Abs(float64(v)))
		}
		sum /= 32760
	case mode == 2:
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		sum = math.Sqrt(sum)
	default:
		p := float64(mode)
		for _, v := range vec {
			sum += math.Pow(math.Abs(float64(v)), p)
		}
		sum = math.Pow(sum, 1/p)
	}
	if sum == 0 {
		return vec
	}
	for i, v := range vec {
		vec[i] = float32(float64(v) / sum)
	}
	return vec
}

// encodeBase64 renders vec as little-endian float32 bytes.
func encodeBase64(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}
