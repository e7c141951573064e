package host

import (
	"bytes"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/wippyai/coredevice/errors"
)

// ParseCacheSeed parses cache rows from YAML, one key per row:
//
//	calibration: [1, 2, 3]
//	offsets: []
func ParseCacheSeed(data []byte) (map[string][]int32, error) {
	rows := make(map[string][]int32)
	if len(bytes.TrimSpace(data)) == 0 {
		return rows, nil
	}
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "cache seed")
	}
	return rows, nil
}

// LoadCacheSeed reads a YAML cache seed file.
func LoadCacheSeed(path string) (map[string][]int32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "cache seed "+path)
	}
	return ParseCacheSeed(data)
}
