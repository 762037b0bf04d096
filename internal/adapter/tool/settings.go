package tool

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings decodes the free-form settings block of a tool entry into
// out. Durations accept Go syntax ("15s") and unknown keys are rejected.
func DecodeSettings(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("settings decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}
