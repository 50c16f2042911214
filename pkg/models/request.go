package models

import (
	"fmt"
	"time"
)

// Category is the classification label that selects a backend chain.
type Category string

const (
	CategoryCoding    Category = "coding"
	CategorySimple    Category = "simple"
	CategoryComplex   Category = "complex"
	CategorySpeedTest Category = "speed_test"
)

// Categories lists every known category in a stable order.
var Categories = []Category{CategoryCoding, CategorySimple, CategoryComplex, CategorySpeedTest}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryCoding, CategorySimple, CategoryComplex, CategorySpeedTest:
		return true
	}
	return false
}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Parameters holds generation parameters forwarded to a backend.
type Parameters struct {
	Temperature *float64       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TopP        *float64       `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	System      string         `json:"system,omitempty" yaml:"system,omitempty"`
	Stop        []string       `json:"stop,omitempty" yaml:"stop,omitempty"`
	Extra       map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Request is a single routing request. An empty Category means the
// classifier decides. A non-empty Backend pins the request to that one
// backend instead of the category's chain.
type Request struct {
	Text       string     `json:"text"`
	Parameters Parameters `json:"parameters,omitempty"`
	Category   Category   `json:"category,omitempty"`
	Backend    string     `json:"backend,omitempty"`
}

// Usage represents token usage reported by a backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the payload returned by a backend call.
type Response struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Backend      string        `json:"backend"`
	Usage        *Usage        `json:"usage,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Latency      time.Duration `json:"latency"`
}
