package secrets

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kevin07696/subscription-service/internal/domain"
)

// splitKey parses "path#field"; the field is optional
func splitKey(key string) (path, field string) {
	if i := strings.LastIndex(key, "#"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// pickField chooses the secret value out of a key/value document: the named
// field, else "value", else the only entry, else the whole document as JSON.
func pickField(data map[string]interface{}, field, path string) (string, error) {
	if field != "" {
		v, ok := data[field]
		if !ok {
			return "", domain.NewDomainError(domain.ErrorCodeNotFound, "secret field not found").
				WithDetail("path", path).
				WithDetail("field", field)
		}
		return stringify(v), nil
	}
	if v, ok := data["value"]; ok {
		return stringify(v), nil
	}
	if len(data) == 1 {
		for _, v := range data {
			return stringify(v), nil
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode secret %s: %w", path, err)
	}
	return string(raw), nil
}

// stringMetadata keeps the string entries of data except the selected field
func stringMetadata(data map[string]interface{}, skip string) map[string]string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	meta := make(map[string]string)
	for _, k := range keys {
		if k == skip {
			continue
		}
		if s, ok := data[k].(string); ok {
			meta[k] = s
		}
	}
	return meta
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
