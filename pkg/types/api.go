package types

import "encoding/json"

// Sampling carries the generation fields shared by completion and chat requests.
type Sampling struct {
	// Maximum number of tokens to predict; -1 means until EOS or context end.
	// example: 128
	NPredict *int `json:"n_predict,omitempty" example:"128"`
	// OpenAI-compatible alias of n_predict.
	MaxTokens *int `json:"max_tokens,omitempty"`
	// OpenAI-compatible alias of n_predict for chat.
	MaxCompletionTokens *int `json:"max_completion_tokens,omitempty"`
	// example: 0.8
	Temperature *float32 `json:"temperature,omitempty" example:"0.8"`
	// example: 40
	TopK *int `json:"top_k,omitempty" example:"40"`
	// example: 0.95
	TopP *float32 `json:"top_p,omitempty" example:"0.95"`
	// example: 0.05
	MinP *float32 `json:"min_p,omitempty" example:"0.05"`
	// example: 1.1
	RepeatPenalty *float32 `json:"repeat_penalty,omitempty" example:"1.1"`
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
	// A single stop string or a list of stop strings.
	Stop json.RawMessage `json:"stop,omitempty" swaggertype:"array,string"`
	// Pin the request to a slot; -1 lets the scheduler choose.
	// example: -1
	IDSlot *int `json:"id_slot,omitempty" example:"-1"`
	// Number of choices; only 1 is supported.
	N *int `json:"n,omitempty"`
}

// CompletionRequest is the body of /completion and /v1/completions.
type CompletionRequest struct {
	Sampling
	// example: tinyllama-q4.gguf
	Model string `json:"model,omitempty" example:"tinyllama-q4.gguf"`
	// A string, a token array, or a list of strings/token arrays.
	Prompt json.RawMessage `json:"prompt" swaggertype:"string"`
	// example: false
	Stream bool `json:"stream,omitempty" example:"false"`
	// Infill only: text before the cursor.
	InputPrefix string `json:"input_prefix,omitempty"`
	// Infill only: text after the cursor.
	InputSuffix string `json:"input_suffix,omitempty"`
}

// ChatRequest is the body of /v1/chat/completions.
type ChatRequest struct {
	Sampling
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// EmbeddingRequest is the body of /embeddings and /v1/embeddings.
type EmbeddingRequest struct {
	Model string `json:"model,omitempty"`
	// OpenAI-compatible input: a string, token array, or list of either.
	Input json.RawMessage `json:"input,omitempty" swaggertype:"string"`
	// Native input, same forms as input.
	Content json.RawMessage `json:"content,omitempty" swaggertype:"string"`
	// float or base64.
	// example: float
	EncodingFormat string `json:"encoding_format,omitempty" example:"float"`
	// -1 none, 0 max-abs int16, 1 taxicab, 2 euclidean, >2 p-norm.
	// example: 2
	EmbdNormalize *int `json:"embd_normalize,omitempty" example:"2"`
}

// ErrorBody is the inner error object of every failure response.
type ErrorBody struct {
	// example: 400
	Code int `json:"code" example:"400"`
	// example: the request exceeds the available context size, try increasing it
	Message string `json:"message" example:"the request exceeds the available context size, try increasing it"`
	// example: exceed_context_size_error
	Type          string `json:"type" example:"exceed_context_size_error"`
	NPromptTokens int    `json:"n_prompt_tokens,omitempty"`
	NCtx          int    `json:"n_ctx,omitempty"`
}

// ErrorResponse is the error envelope shared by validation and engine failures.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Timings reports per-request throughput.
type Timings struct {
	PromptN            int     `json:"prompt_n"`
	PromptMS           float64 `json:"prompt_ms"`
	PredictedN         int     `json:"predicted_n"`
	PredictedMS        float64 `json:"predicted_ms"`
	PredictedPerSecond float64 `json:"predicted_per_second"`
}

// GenerationParams is the resolved sampling configuration of a task.
type GenerationParams struct {
	NPredict      int      `json:"n_predict"`
	Temperature   float32  `json:"temperature"`
	TopK          int      `json:"top_k"`
	TopP          float32  `json:"top_p"`
	MinP          float32  `json:"min_p"`
	RepeatPenalty float32  `json:"repeat_penalty"`
	Seed          int64    `json:"seed"`
	Stop          []string `json:"stop"`
	Stream        bool     `json:"stream"`
}

// CompletionResponse is the native completion payload, partial or final.
type CompletionResponse struct {
	Index              int               `json:"index"`
	Content            string            `json:"content"`
	IDSlot             int               `json:"id_slot"`
	Stop               bool              `json:"stop"`
	Model              string            `json:"model,omitempty"`
	TokensPredicted    int               `json:"tokens_predicted,omitempty"`
	TokensEvaluated    int               `json:"tokens_evaluated,omitempty"`
	GenerationSettings *GenerationParams `json:"generation_settings,omitempty"`
	StopType           string            `json:"stop_type,omitempty"`
	StoppingWord       string            `json:"stopping_word,omitempty"`
	Truncated          bool              `json:"truncated,omitempty"`
	Timings            *Timings          `json:"timings,omitempty"`
}

// OAIUsage is OpenAI-compatible token accounting.
type OAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OAICompletionChoice is one choice of a text_completion object.
type OAICompletionChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	Logprobs     any     `json:"logprobs"`
	FinishReason *string `json:"finish_reason"`
}

// OAICompletion is the /v1/completions response and stream chunk.
type OAICompletion struct {
	ID      string                `json:"id"`
	Object  string                `json:"object"`
	Created int64                 `json:"created"`
	Model   string                `json:"model"`
	Choices []OAICompletionChoice `json:"choices"`
	Usage   *OAIUsage             `json:"usage,omitempty"`
}

// OAIDelta is the incremental message of a chat.completion.chunk.
type OAIDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// OAIChatChoice is one choice of a chat completion or chunk.
type OAIChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *OAIDelta    `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

// OAIChatCompletion is the /v1/chat/completions response and stream chunk.
type OAIChatCompletion struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Choices []OAIChatChoice `json:"choices"`
	Usage   *OAIUsage       `json:"usage,omitempty"`
}

// EmbeddingItem is one entry of the native embeddings response.
// Embedding is a list of float vectors, or base64 strings when requested.
type EmbeddingItem struct {
	Index     int `json:"index"`
	Embedding any `json:"embedding"`
}

// OAIEmbeddingItem is one entry of an OpenAI-compatible embeddings list.
type OAIEmbeddingItem struct {
	Object    string `json:"object"`
	Index     int    `json:"index"`
	Embedding any    `json:"embedding"`
}

// OAIEmbeddingResponse is the /v1/embeddings response.
type OAIEmbeddingResponse struct {
	Object string             `json:"object"`
	Data   []OAIEmbeddingItem `json:"data"`
	Model  string             `json:"model"`
	Usage  OAIUsage           `json:"usage"`
}

// Modalities reports the input modalities a loaded model accepts.
type Modalities struct {
	Vision bool `json:"vision"`
	Audio  bool `json:"audio"`
}

// DefaultGenerationSettings reports the server-side defaults for new tasks.
type DefaultGenerationSettings struct {
	Params GenerationParams `json:"params"`
	NCtx   int              `json:"n_ctx"`
}

// Props is returned by GET /props.
type Props struct {
	DefaultGenerationSettings DefaultGenerationSettings `json:"default_generation_settings"`
	// example: 4
	TotalSlots      int        `json:"total_slots" example:"4"`
	ModelAlias      string     `json:"model_alias"`
	ModelPath       string     `json:"model_path"`
	Modalities      Modalities `json:"modalities"`
	EndpointSlots   bool       `json:"endpoint_slots"`
	EndpointProps   bool       `json:"endpoint_props"`
	EndpointMetrics bool       `json:"endpoint_metrics"`
	ChatTemplate    string     `json:"chat_template"`
	BOSToken        string     `json:"bos_token"`
	EOSToken        string     `json:"eos_token"`
	BuildInfo       string     `json:"build_info"`
}

// SlotStatus is one entry of GET /slots.
type SlotStatus struct {
	ID            int  `json:"id"`
	IDTask        int  `json:"id_task"`
	NCtx          int  `json:"n_ctx"`
	Speculative   bool `json:"speculative"`
	IsProcessing  bool `json:"is_processing"`
	NPromptTokens int  `json:"n_prompt_tokens"`
	NDecoded      int  `json:"n_decoded"`
	NRemain       int  `json:"n_remain"`
	HasNextToken  bool `json:"has_next_token"`
}

// OAIModel is one entry of GET /v1/models.
type OAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// OAIModelList is returned by GET /v1/models.
type OAIModelList struct {
	Object string     `json:"object"`
	Data   []OAIModel `json:"data"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// InstanceStatus summarizes a loaded engine for /status.
type InstanceStatus struct {
	// ID of the model this instance serves.
	// example: tinyllama-q4.gguf
	ModelID string `json:"model_id" example:"tinyllama-q4.gguf"`
	// Current lifecycle state of the instance (loading, ready, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last time this instance served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Estimated VRAM usage in MB.
	// example: 1200
	EstVRAMMB int `json:"est_vram_mb" example:"1200"`
	// Admitted requests waiting for or holding the engine.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Maximum admitted requests before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Number of generation slots of the engine.
	// example: 4
	Slots int `json:"slots" example:"4"`
	// Whether the engine worker is running.
	Running bool `json:"running"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Loaded/managed instances.
	Instances []InstanceStatus `json:"instances"`
	// VRAM budget in MB across all instances.
	// example: 8192
	BudgetMB int `json:"budget_mb" example:"8192"`
	// Estimated used VRAM in MB.
	// example: 2048
	UsedMB int `json:"used_est_mb" example:"2048"`
	// Reserved VRAM margin in MB.
	// example: 512
	MarginMB int `json:"margin_mb" example:"512"`
	// Last error observed by the manager (if any).
	Error string `json:"error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Total number of evictions performed to free VRAM.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Total number of engine loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Overall manager state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Number of instances currently warming up (loading).
	WarmupsInProgress int `json:"warmups_in_progress"`
	// Number of instances currently draining (unload in progress).
	DrainingCount int `json:"draining_count"`
}
