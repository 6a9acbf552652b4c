package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"contas/internal/core"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// body is a decoded JSON object with snake_case keys.
type body map[string]any

func decodeBody(r *http.Request) (body, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, core.Invalid("unreadable request body", err)
	}
	if len(raw) == 0 {
		return nil, core.Invalid("empty request body", nil)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, core.Invalid("malformed JSON body", err)
	}
	return normalizeKeys(m), nil
}

func (b body) has(key string) bool {
	_, ok := b[key]
	return ok
}

func (b body) str(key string) (string, bool) {
	v, ok := b[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

func (b body) int64(key string) (int64, bool) {
	v, ok := b[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func (b body) boolean(key string) (bool, bool) {
	v, ok := b[key]
	if !ok {
		return false, false
	}
	t, ok := v.(bool)
	return t, ok
}

// money reads an amount field given either as a decimal string
// ("10.50") or a JSON number. Numbers are taken as major units.
func (b body) money(key string) (core.Money, bool, error) {
	v, ok := b[key]
	if !ok {
		return core.Money{}, false, nil
	}
	switch n := v.(type) {
	case string:
		m, err := core.ParseMoney(n)
		if err != nil {
			return core.Money{}, true, core.Invalid(fmt.Sprintf("invalid %s", key), err)
		}
		return m, true, nil
	case float64:
		m, err := core.ParseMoney(strconv.FormatFloat(n, 'f', -1, 64))
		if err != nil {
			return core.Money{}, true, core.Invalid(fmt.Sprintf("invalid %s", key), err)
		}
		return m, true, nil
	default:
		return core.Money{}, true, core.Invalid(fmt.Sprintf("invalid %s", key), core.ErrInvalidAmount)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Invalid(fmt.Sprintf("invalid %s", name), nil)
	}
	return id, nil
}
