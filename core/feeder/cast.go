package feeder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CastError reports a raw entity value that could not be converted to its
// declared type. Default is the value callers should fall back to.
type CastError struct {
	Entity  string
	Raw     any
	Default any
	Err     error
}

func (e *CastError) Error() string {
	if e.Raw == nil {
		return fmt.Sprintf("entity %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("entity %s: cannot cast %v: %v", e.Entity, e.Raw, e.Err)
}

func (e *CastError) Unwrap() error { return e.Err }

// ErrUnavailable marks values the home-automation system reports as not
// available yet.
var ErrUnavailable = errors.New("value unavailable")

func unavailable(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unavailable", "unknown", "none", "":
		return true
	}
	return false
}

// ToFloat converts numbers and numeric strings.
func ToFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		if unavailable(v) {
			return 0, ErrUnavailable
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T for float", raw)
	}
}

// ToInt converts like ToFloat then truncates.
func ToInt(raw any) (int, error) {
	f, err := ToFloat(raw)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// ToBool accepts booleans, numbers (> 0 is true) and the usual on/off
// literals.
func ToBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		if unavailable(v) {
			return false, ErrUnavailable
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "on", "true", "1", "vrai", "yes":
			return true, nil
		case "off", "false", "0", "faux", "no":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	default:
		f, err := ToFloat(raw)
		if err != nil {
			return false, fmt.Errorf("unsupported type %T for bool", raw)
		}
		return f > 0, nil
	}
}

// ToString formats any scalar.
func ToString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case nil:
		return "", ErrUnavailable
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
