package models

import (
	"fmt"
	"time"
)

// BackendKind selects the adapter used to talk to a backend.
type BackendKind string

const (
	KindOllama      BackendKind = "ollama"
	KindHuggingFace BackendKind = "huggingface"
	KindOpenAI      BackendKind = "openai"
)

// ParseBackendKind converts a string into a BackendKind.
func ParseBackendKind(s string) (BackendKind, error) {
	switch k := BackendKind(s); k {
	case KindOllama, KindHuggingFace, KindOpenAI:
		return k, nil
	}
	return "", fmt.Errorf("unknown backend kind %q", s)
}

// QuantizationOptions carries model loading hints. Ollama maps them onto
// request options; other kinds ignore what they cannot express.
type QuantizationOptions struct {
	LoadIn8Bit bool   `json:"load_in_8bit,omitempty" yaml:"load_in_8bit" toml:"load_in_8bit"`
	LoadIn4Bit bool   `json:"load_in_4bit,omitempty" yaml:"load_in_4bit" toml:"load_in_4bit"`
	NumCtx     int    `json:"num_ctx,omitempty" yaml:"num_ctx" toml:"num_ctx"`
	NumGPU     int    `json:"num_gpu,omitempty" yaml:"num_gpu" toml:"num_gpu"`
	DeviceMap  string `json:"device_map,omitempty" yaml:"device_map" toml:"device_map"`
}

// BackendDescriptor describes one callable model endpoint.
type BackendDescriptor struct {
	Name         string              `json:"name"`
	Kind         BackendKind         `json:"kind"`
	Endpoint     string              `json:"endpoint"`
	ModelID      string              `json:"model_id"`
	Timeout      time.Duration       `json:"timeout"`
	MaxRetries   int                 `json:"max_retries"`
	Quantization QuantizationOptions `json:"quantization"`
	APIKey       string              `json:"-"`
	// RateLimit is the maximum requests per second; zero disables limiting.
	RateLimit float64 `json:"rate_limit,omitempty"`
}
