package quiz

import (
	"os"
	"path/filepath"
	"testing"
)

func writeQuizFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quizzes.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write quiz file: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeQuizFile(t, `[
		{"question": "Capital of France?", "answer": "Paris", "decoys": ["Lyon", "Nice"]},
		{"question": "2+2?", "answer": "4", "decoys": ["5"]}
	]`)
	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
	q := p.GetRandomQuiz()
	if q == nil || q.Question == "" || q.Answer == "" || len(q.Decoys) == 0 {
		t.Errorf("GetRandomQuiz returned incomplete quiz: %+v", q)
	}
}

func TestLoadFileRejectsMissingFields(t *testing.T) {
	path := writeQuizFile(t, `[{"question": "Q?", "answer": "A"}]`)
	if _, err := LoadFile(path); err == nil {
		t.Error("quiz without decoys accepted")
	}
}

func TestLoadFileRejectsEmptyStrings(t *testing.T) {
	path := writeQuizFile(t, `[{"question": "", "answer": "A", "decoys": ["B"]}]`)
	if _, err := LoadFile(path); err == nil {
		t.Error("quiz with empty question accepted")
	}
}

func TestLoadFileRejectsNonJSON(t *testing.T) {
	path := writeQuizFile(t, `not json`)
	if _, err := LoadFile(path); err == nil {
		t.Error("malformed file accepted")
	}
}

func TestLoadFileMissingPath(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestGetRandomQuizEmpty(t *testing.T) {
	p := NewProvider(nil)
	if q := p.GetRandomQuiz(); q != nil {
		t.Errorf("empty provider returned %+v, want nil", q)
	}
}

func TestGetRandomQuizReturnsCopy(t *testing.T) {
	p := NewProvider([]Quiz{{Question: "Q", Answer: "A", Decoys: []string{"B"}}})
	q := p.GetRandomQuiz()
	q.Answer = "mutated"
	if p.GetRandomQuiz().Answer != "A" {
		t.Error("mutation through returned quiz leaked into the provider")
	}
}
