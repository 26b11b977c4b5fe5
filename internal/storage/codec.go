package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"livespese/internal/core"
)

// EncodeFields serializes fields for backends that keep documents as JSON.
// Times become fixed-width UTC strings so JSON ordering matches time ordering,
// and decimals become JSON numbers.
func EncodeFields(f Fields) ([]byte, error) {
	out := make(map[string]any, len(f))
	for k, v := range f {
		switch val := v.(type) {
		case time.Time:
			out[k] = val.UTC().Format(core.SortableTime)
		case decimal.Decimal:
			out[k] = json.Number(val.String())
		default:
			out[k] = v
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return data, nil
}

// DecodeFields parses a JSON document. Numbers are kept as json.Number so
// prices survive without float rounding.
func DecodeFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f Fields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}
