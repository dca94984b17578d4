// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fusion

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/pdiddy/fusion-engine/pkg/types"
)

// Decode converts the record's data into T using mapstructure tags. Numeric
// fields produced by weighted averaging decode into integer fields by
// truncation.
func Decode[T any](rec types.FusedRecord) (types.Fused[T], error) {
	var out types.Fused[T]
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out.Data,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return out, fmt.Errorf("creating decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(rec.Data)); err != nil {
		return out, fmt.Errorf("decoding fused %T: %w", out.Data, err)
	}
	out.Fusion = rec.Fusion
	return out, nil
}
