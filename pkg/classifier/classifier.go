// Package classifier assigns a routing category to request text using
// case-insensitive keyword matching.
package classifier

import (
	"strings"

	"github.com/nexus-agent/nexus/pkg/config"
	"github.com/nexus-agent/nexus/pkg/models"
)

// Decision explains a classification.
type Decision struct {
	Category models.Category `json:"category"`
	Keyword  string          `json:"keyword,omitempty"`
	Reason   string          `json:"reason"`
}

// Classifier holds lowercased keyword sets. It is immutable after New and
// safe for concurrent use.
type Classifier struct {
	coding  []string
	complex []string
	simple  []string
}

// New builds a classifier from configured keyword sets. Empty entries are
// dropped.
func New(cfg config.ClassifierConfig) *Classifier {
	return &Classifier{
		coding:  normalize(cfg.CodingKeywords),
		complex: normalize(cfg.ComplexKeywords),
		simple:  normalize(cfg.SimpleKeywords),
	}
}

func normalize(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Classify returns the category for text. Coding keywords win over every
// other set; text matching nothing is simple.
func (c *Classifier) Classify(text string) models.Category {
	return c.Explain(text).Category
}

// Explain classifies text and reports which keyword decided it.
func (c *Classifier) Explain(text string) Decision {
	lower := strings.ToLower(text)

	if k, ok := firstMatch(lower, c.coding); ok {
		return Decision{Category: models.CategoryCoding, Keyword: k, Reason: "Coding task detected"}
	}
	if k, ok := firstMatch(lower, c.complex); ok {
		return Decision{Category: models.CategoryComplex, Keyword: k, Reason: "Complex task detected"}
	}
	if k, ok := firstMatch(lower, c.simple); ok {
		return Decision{Category: models.CategorySimple, Keyword: k, Reason: "Simple task detected"}
	}
	return Decision{Category: models.CategorySimple, Reason: "Default routing"}
}

// Declared builds the decision for a caller-declared category.
func Declared(cat models.Category) Decision {
	return Decision{Category: cat, Reason: "Task type: " + string(cat)}
}

func firstMatch(text string, keywords []string) (string, bool) {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return k, true
		}
	}
	return "", false
}
