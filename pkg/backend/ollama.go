package backend

import (
	"context"
	"net/http"

	"github.com/nexus-agent/nexus/pkg/models"
)

// Ollama talks to an Ollama server. Requests with a system prompt use
// /api/chat, all others /api/generate.
type Ollama struct {
	client *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string         `json:"model"`
	Response        string         `json:"response"`
	Message         *ollamaMessage `json:"message,omitempty"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason"`
	PromptEvalCount int            `json:"prompt_eval_count"`
	EvalCount       int            `json:"eval_count"`
}

// Call implements Backend.
func (o *Ollama) Call(ctx context.Context, desc models.BackendDescriptor, text string, params models.Parameters) (*models.Response, error) {
	opts := ollamaOptions(desc.Quantization, params)

	var out ollamaResponse
	var err error
	if params.System != "" {
		err = postJSON(ctx, o.client, desc, "/api/chat", nil, ollamaChatRequest{
			Model: desc.ModelID,
			Messages: []ollamaMessage{
				{Role: "system", Content: params.System},
				{Role: "user", Content: text},
			},
			Options: opts,
		}, &out)
	} else {
		err = postJSON(ctx, o.client, desc, "/api/generate", nil, ollamaGenerateRequest{
			Model:   desc.ModelID,
			Prompt:  text,
			Options: opts,
		}, &out)
	}
	if err != nil {
		return nil, err
	}

	content := out.Response
	if out.Message != nil {
		content = out.Message.Content
	}
	if content == "" {
		return nil, emptyContent(desc)
	}

	model := out.Model
	if model == "" {
		model = desc.ModelID
	}
	return &models.Response{
		Content: content,
		Model:   model,
		Backend: desc.Name,
		Usage: &models.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
		FinishReason: out.DoneReason,
	}, nil
}

// ollamaOptions maps generation parameters and load hints onto Ollama's
// options object. 8/4-bit loading is chosen by the model tag in Ollama, so
// those flags have no option equivalent.
func ollamaOptions(q models.QuantizationOptions, p models.Parameters) map[string]any {
	opts := make(map[string]any)
	for k, v := range p.Extra {
		opts[k] = v
	}
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	if p.MaxTokens != nil {
		opts["num_predict"] = *p.MaxTokens
	}
	if len(p.Stop) > 0 {
		opts["stop"] = p.Stop
	}
	if q.NumCtx > 0 {
		opts["num_ctx"] = q.NumCtx
	}
	if q.NumGPU > 0 {
		opts["num_gpu"] = q.NumGPU
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
