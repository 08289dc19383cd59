package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/logger"
)

// Ensure PromptStore implements the interface.
var _ driven.PromptStore = (*PromptStore)(nil)

const promptExt = ".txt"

// PromptStore serves the answer, extraction and OCR prompts from editable
// files, one <name>.txt per prompt, seeded from driven.DefaultPrompts.
//
// An edited file whose fmt verbs no longer match the built-in template is
// ignored in favour of the default, since the callers format prompts with a
// fixed argument list.
type PromptStore struct {
	dir string

	seedOnce sync.Once
	seedErr  error

	mu     sync.RWMutex
	loaded map[string]string
}

// NewPromptStore returns a store rooted at dir, or ~/.docintel/prompts when
// dir is empty. Nothing is written until the first Load.
func NewPromptStore(dir string) (*PromptStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(home, ".docintel", "prompts")
	}
	return &PromptStore{dir: dir, loaded: make(map[string]string)}, nil
}

// Load returns the template called name.
func (s *PromptStore) Load(name string) (string, error) {
	s.seedOnce.Do(s.seed)

	s.mu.RLock()
	prompt, ok := s.loaded[name]
	s.mu.RUnlock()
	if ok {
		return prompt, nil
	}

	def, known := driven.DefaultPrompts[name]
	if s.seedErr != nil {
		if known {
			return def, nil
		}
		return "", fmt.Errorf("prompt %q: %w", name, s.seedErr)
	}

	prompt, err := s.read(name)
	switch {
	case err != nil && !known:
		return "", fmt.Errorf("load prompt %q: %w", name, err)
	case err != nil:
		prompt = def
	case known && verbCount(prompt) != verbCount(def):
		logger.Warn("Prompt %s has %d placeholders, expected %d; using built-in prompt",
			s.path(name), verbCount(prompt), verbCount(def))
		prompt = def
	}

	s.mu.Lock()
	if cached, ok := s.loaded[name]; ok {
		prompt = cached
	} else {
		s.loaded[name] = prompt
	}
	s.mu.Unlock()
	return prompt, nil
}

// Reload forgets loaded prompts so edits are picked up.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	s.loaded = make(map[string]string)
	s.mu.Unlock()
}

// Dir returns the prompt directory.
func (s *PromptStore) Dir() string {
	return s.dir
}

func (s *PromptStore) path(name string) string {
	return filepath.Join(s.dir, name+promptExt)
}

// seed creates the directory, any missing default prompt file and the README.
// Existing files are left alone.
func (s *PromptStore) seed() {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		s.seedErr = fmt.Errorf("create prompt directory: %w", err)
		return
	}
	files := map[string]string{"README.md": promptReadme}
	for name, content := range driven.DefaultPrompts {
		files[name+promptExt] = content
	}
	for file, content := range files {
		path := filepath.Join(s.dir, file)
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			s.seedErr = fmt.Errorf("write %s: %w", file, err)
			return
		}
	}
}

func (s *PromptStore) read(name string) (string, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return "", err
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	return strings.TrimSpace(text), nil
}

// verbCount counts fmt verbs, ignoring escaped percent signs.
func verbCount(tmpl string) int {
	return strings.Count(strings.ReplaceAll(tmpl, "%%", ""), "%")
}

const promptReadme = `# docintel prompts

Each file here is a prompt template docintel sends to the configured model.

- answer.txt: answers a question from numbered sources with [n] citations
- extraction_agent.txt: extracts demographics and lab rows as JSON
- observation_agent.txt: labels each lab row low, normal or high
- single_pass.txt: extracts the whole record in one reply
- vision_ocr.txt: transcribes a page image with word boxes

Edits apply to the next command, or after restarting "docintel mcp".
Keep every %s placeholder, in order. A file with a different number of
placeholders is ignored and the built-in prompt is used instead. Delete a
file to restore its default.
`
