package fallback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and parsing of the fallback allow-list.
type Loader struct {
	filePath string
}

func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and parses the fallback file. Unknown keys are rejected so a
// typo cannot silently disable an entry. An empty file is an empty list.
func (l *Loader) Load() (FallbackConfig, error) {
	var config FallbackConfig

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return config, fmt.Errorf("failed to read fallback file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return config, fmt.Errorf("failed to parse fallback yaml: %w", err)
	}

	return config, nil
}
