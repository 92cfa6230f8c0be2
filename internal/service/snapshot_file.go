package service

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/sma-timetable/internal/dto"
)

// DecodeSnapshotFile reads a YAML or JSON snapshot. Unknown keys are rejected so a typo does not
// silently fall back to a default. Timestamps are RFC 3339.
func DecodeSnapshotFile(r io.Reader) (dto.SnapshotFile, error) {
	var file dto.SnapshotFile
	raw, err := io.ReadAll(r)
	if err != nil {
		return file, fmt.Errorf("read snapshot: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return file, fmt.Errorf("parse snapshot: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeHookFunc(time.RFC3339),
		ErrorUnused: true,
		Result:      &file,
	})
	if err != nil {
		return file, err
	}
	if err := decoder.Decode(doc); err != nil {
		return file, fmt.Errorf("decode snapshot: %w", err)
	}
	return file, nil
}

// ReadSnapshotFile opens and decodes the snapshot at path.
func ReadSnapshotFile(path string) (dto.SnapshotFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return dto.SnapshotFile{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return DecodeSnapshotFile(f)
}
