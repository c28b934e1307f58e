package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Args are the decoded JSON arguments of a tool call.
type Args map[string]any

var errMissingUser = errors.New("tool called without an authenticated user")

// WithUser returns a copy of a with UserIDArg set to userID, replacing any
// value the model supplied.
func (a Args) WithUser(userID string) Args {
	out := make(Args, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	out[UserIDArg] = userID
	return out
}

// WithoutUser returns a copy of a without UserIDArg.
func (a Args) WithoutUser() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		if k == UserIDArg {
			continue
		}
		out[k] = v
	}
	return out
}

func (a Args) UserID() (string, error) {
	userID, ok := a[UserIDArg].(string)
	if !ok || userID == "" {
		return "", errMissingUser
	}
	return userID, nil
}

// String returns the string argument key. A missing or null key yields
// ok=false; a value of another type is an error.
func (a Args) String(key string) (value string, ok bool, err error) {
	raw, present := a[key]
	if !present || raw == nil {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", false, fmt.Errorf("%s must be a string", key)
	}
	return s, true, nil
}

// ID returns a positive integer argument. JSON numbers arrive as float64 and
// some models quote them, so both forms are accepted.
func (a Args) ID(key string) (uint, error) {
	raw, present := a[key]
	if !present || raw == nil {
		return 0, fmt.Errorf("%s is required", key)
	}

	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		n = f
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}

	if n != math.Trunc(n) || n < 1 || n > math.MaxUint32 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return uint(n), nil
}
