package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var symbolFields = []string{"tradingsymbol", "symbol", "name"}

// ParseInstruments 解析 INSTRUMENTS_DATA：非空 JSON 数组，只保留数值型 token
func ParseInstruments(raw string) (map[uint32]string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%s must be a valid JSON array: %w", EnvInstruments, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s must be a non-empty JSON array", EnvInstruments)
	}

	out := make(map[uint32]string, len(items))
	for _, item := range items {
		num, ok := item["token"].(json.Number)
		if !ok {
			continue
		}
		tok, err := strconv.ParseUint(num.String(), 10, 32)
		if err != nil {
			continue
		}
		symbol := ""
		for _, f := range symbolFields {
			if s, ok := item[f].(string); ok && s != "" {
				symbol = s
				break
			}
		}
		out[uint32(tok)] = symbol
	}
	if len(out) == 0 {
		return nil, errors.New("no valid numeric tokens found in " + EnvInstruments)
	}
	return out, nil
}
