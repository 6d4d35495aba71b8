// Package quiz is the static challenge content repository: a read-mostly
// JSON-backed list, schema-validated at load.
package quiz

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// Quiz is one challenge: a question, its answer, and the decoy options shown
// beside it.
type Quiz struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Decoys   []string `json:"decoys"`
}

const fileSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["question", "answer", "decoys"],
		"properties": {
			"question": {"type": "string", "minLength": 1},
			"answer":   {"type": "string", "minLength": 1},
			"decoys": {
				"type": "array",
				"items": {"type": "string", "minLength": 1},
				"minItems": 1
			}
		}
	}
}`

// Provider serves random quizzes from an immutable in-memory list.
type Provider struct {
	quizzes []Quiz
}

// NewProvider wraps an already-validated quiz list. Used by tests.
func NewProvider(quizzes []Quiz) *Provider {
	return &Provider{quizzes: quizzes}
}

// LoadFile reads and validates a quiz file. A file that fails schema
// validation is rejected whole rather than partially loaded.
func LoadFile(path string) (*Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quiz file: %w", err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(fileSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("validate quiz file: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("quiz file %s is malformed: %s", path, result.Errors()[0])
	}
	var quizzes []Quiz
	if err := json.Unmarshal(raw, &quizzes); err != nil {
		return nil, fmt.Errorf("decode quiz file: %w", err)
	}
	return &Provider{quizzes: quizzes}, nil
}

// GetRandomQuiz returns a uniformly random quiz, or nil when none are loaded.
func (p *Provider) GetRandomQuiz() *Quiz {
	if len(p.quizzes) == 0 {
		return nil
	}
	q := p.quizzes[rand.Intn(len(p.quizzes))]
	return &q
}

// Len reports how many quizzes are loaded.
func (p *Provider) Len() int { return len(p.quizzes) }
