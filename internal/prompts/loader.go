// Package prompts holds the LLM prompt templates used for clip mining and
// metadata generation, embedded as JSON files keyed by prompt name.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed *.json
var templateFS embed.FS

// library caches parsed template files. Embedded files are immutable at
// runtime, so each file is parsed once and served from memory afterwards.
type library struct {
	mu    sync.Mutex
	files map[string]map[string]string
}

var lib = library{files: make(map[string]map[string]string)}

func (l *library) file(filename string) (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if parsed, ok := l.files[filename]; ok {
		return parsed, nil
	}
	data, err := templateFS.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}
	parsed := make(map[string]string)
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}
	l.files[filename] = parsed
	return parsed, nil
}

// Get returns the raw template under key in filename. The filename is
// bare, without a path (e.g. "clips.json").
func Get(filename, key string) (string, error) {
	file, err := lib.file(filename)
	if err != nil {
		return "", err
	}
	template, ok := file[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return template, nil
}

// Render looks up a template and substitutes every {{.Key}} placeholder
// from data. A placeholder left unsubstituted is an error, so template
// drift surfaces at the call site instead of inside an LLM request.
func Render(filename, key string, data map[string]string) (string, error) {
	template, err := Get(filename, key)
	if err != nil {
		return "", err
	}
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{{."+k+"}}", v)
	}
	if i := strings.Index(result, "{{."); i >= 0 {
		tail := result[i:]
		if j := strings.Index(tail, "}}"); j >= 0 {
			tail = tail[:j+2]
		}
		return "", fmt.Errorf("prompt %s/%s: placeholder %s not supplied", filename, key, tail)
	}
	return result, nil
}
