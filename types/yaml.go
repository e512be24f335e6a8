package types

import (
	"bytes"
	"os"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// ParseSequenceYAML decodes a sequence definition payload. Only the
// definition fields are read; status and version are owned by the
// engine. Structural validity is checked by CreateSequence, not here.
func ParseSequenceYAML(data []byte) (*TaskSequence, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.BadRequestf("sequence definition payload is empty")
	}
	seq := &TaskSequence{}
	if err := yaml.Unmarshal(data, seq); err != nil {
		return nil, errors.Annotatef(err, "decode sequence definition")
	}
	seq.Status = SequenceDraft
	return seq, nil
}

// LoadSequenceFile reads one YAML sequence definition from disk.
func LoadSequenceFile(path string) (*TaskSequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "read %s", path)
	}
	seq, err := ParseSequenceYAML(data)
	if err != nil {
		return nil, errors.Annotatef(err, "parse %s", path)
	}
	return seq, nil
}
