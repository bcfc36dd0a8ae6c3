package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Options tunes Map.
type Options struct {
	// WeaklyTypedInput enables mapstructure's loose conversions (bool to
	// string, number to string, ...). Numeric-string ids are accepted
	// either way.
	WeaklyTypedInput bool
}

func DefaultOptions() Options {
	return Options{}
}

// Map decodes a dynamic JSON object into T using `json` tags.
func Map[T any](m map[string]any, opts ...Options) (*T, error) {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	if m == nil {
		return &out, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			trimNumericStringHook(),
			numberToStringHook(cfg.WeaklyTypedInput),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}

// Object parses raw JSON into a map, keeping numbers as json.Number so
// 64-bit ids survive.
func Object(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// " 42 " and json.Number("42") -> int64(42) for integer targets.
func trimNumericStringHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			s := strings.TrimSpace(reflect.ValueOf(data).String())
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q", s)
			}
			return n, nil
		}
		return data, nil
	}
}

// json.Number is a string kind, so mapstructure would copy it into string
// fields unchecked. Only weak mode lets a number become text.
func numberToStringHook(weak bool) mapstructure.DecodeHookFunc {
	numType := reflect.TypeOf(json.Number(""))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from != numType || to.Kind() != reflect.String {
			return data, nil
		}
		if !weak {
			return nil, fmt.Errorf("expected string, got number %s", reflect.ValueOf(data).String())
		}
		return reflect.ValueOf(data).String(), nil
	}
}
