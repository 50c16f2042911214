package backend

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nexus-agent/nexus/pkg/models"
)

// HuggingFace talks to a text-generation-inference server's /generate
// endpoint. The hosted Inference API's array-shaped reply is also accepted.
type HuggingFace struct {
	client *http.Client
}

type hfParameters struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxNewTokens   *int     `json:"max_new_tokens,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	Stop           []string `json:"stop,omitempty"`
	ReturnFullText bool     `json:"return_full_text"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
	Details       *struct {
		FinishReason    string `json:"finish_reason"`
		GeneratedTokens int    `json:"generated_tokens"`
	} `json:"details,omitempty"`
}

// hfReply decodes either a single generation or a list of them.
type hfReply struct {
	gens []hfGeneration
}

func (r *hfReply) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &r.gens)
	}
	var g hfGeneration
	if err := json.Unmarshal(data, &g); err != nil {
		return err
	}
	r.gens = []hfGeneration{g}
	return nil
}

// Call implements Backend.
func (h *HuggingFace) Call(ctx context.Context, desc models.BackendDescriptor, text string, params models.Parameters) (*models.Response, error) {
	inputs := text
	if params.System != "" {
		inputs = params.System + "\n\n" + text
	}

	var reply hfReply
	err := postJSON(ctx, h.client, desc, "/generate", bearer(desc.APIKey), hfRequest{
		Inputs: inputs,
		Parameters: hfParameters{
			Temperature:  params.Temperature,
			MaxNewTokens: params.MaxTokens,
			TopP:         params.TopP,
			Stop:         params.Stop,
		},
	}, &reply)
	if err != nil {
		return nil, err
	}
	if len(reply.gens) == 0 || reply.gens[0].GeneratedText == "" {
		return nil, emptyContent(desc)
	}

	gen := reply.gens[0]
	resp := &models.Response{
		Content: gen.GeneratedText,
		Model:   desc.ModelID,
		Backend: desc.Name,
	}
	if gen.Details != nil {
		resp.FinishReason = gen.Details.FinishReason
		resp.Usage = &models.Usage{
			CompletionTokens: gen.Details.GeneratedTokens,
			TotalTokens:      gen.Details.GeneratedTokens,
		}
	}
	return resp, nil
}
