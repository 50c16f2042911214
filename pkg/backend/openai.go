package backend

import (
	"context"
	"net/http"

	"github.com/nexus-agent/nexus/pkg/models"
)

// OpenAI talks to any OpenAI-compatible /v1/chat/completions endpoint,
// such as vLLM or llama.cpp's server.
type OpenAI struct {
	client *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *models.Usage `json:"usage,omitempty"`
}

// Call implements Backend.
func (o *OpenAI) Call(ctx context.Context, desc models.BackendDescriptor, text string, params models.Parameters) (*models.Response, error) {
	var msgs []chatMessage
	if params.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: params.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: text})

	var out chatResponse
	err := postJSON(ctx, o.client, desc, "/v1/chat/completions", bearer(desc.APIKey), chatRequest{
		Model:       desc.ModelID,
		Messages:    msgs,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
		Stop:        params.Stop,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, emptyContent(desc)
	}

	model := out.Model
	if model == "" {
		model = desc.ModelID
	}
	return &models.Response{
		Content:      out.Choices[0].Message.Content,
		Model:        model,
		Backend:      desc.Name,
		Usage:        out.Usage,
		FinishReason: out.Choices[0].FinishReason,
	}, nil
}
