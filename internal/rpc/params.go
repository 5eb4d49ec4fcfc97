package rpc

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

// ErrParse is returned for a missing or mistyped positional parameter.
var ErrParse = errors.New("parse error")

// Params is a positional parameter list as decoded from the UI (JSON numbers
// arrive as float64, binary values as base64 strings).
type Params []any

func (p Params) at(i int) (any, error) {
	if i < 0 || i >= len(p) {
		return nil, fmt.Errorf("param %d missing: %w", i, ErrParse)
	}
	return p[i], nil
}

func (p Params) String(i int) (string, error) {
	v, err := p.at(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %d: want string, got %T: %w", i, v, ErrParse)
	}
	return s, nil
}

func (p Params) Int64(i int) (int64, error) {
	v, err := p.at(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("param %d overflows: %w", i, ErrParse)
		}
		return int64(n), nil
	case float64:
		// float64(math.MaxInt64) is 2^63, which is already out of range.
		if n != math.Trunc(n) || n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("param %d: %v is not an integer: %w", i, n, ErrParse)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("param %d: want integer, got %T: %w", i, v, ErrParse)
	}
}

// Bytes accepts raw bytes or a standard base64 string. An empty string yields
// nil.
func (p Params) Bytes(i int) ([]byte, error) {
	v, err := p.at(i)
	if err != nil {
		return nil, err
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		if b == "" {
			return nil, nil
		}
		out, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, fmt.Errorf("param %d: %v: %w", i, err, ErrParse)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("param %d: want bytes, got %T: %w", i, v, ErrParse)
	}
}
