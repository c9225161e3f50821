package strategy

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PresetFile maps preset names to parameter sets, e.g.
//
//	presets:
//	  btc_1h:
//	    ema_fast: 21
//	    ema_slow: 55
//	    adx_min: 18
type PresetFile struct {
	Presets map[string]Params `yaml:"presets"`
}

// LoadPresets reads a YAML preset file. Unknown keys are rejected so a
// typoed parameter can not silently fall back to its default.
func LoadPresets(path string) (map[string]Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading strategy presets: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var file PresetFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing strategy presets %s: %w", path, err)
	}
	if len(file.Presets) == 0 {
		return nil, fmt.Errorf("strategy preset file %s defines no presets", path)
	}
	return file.Presets, nil
}
