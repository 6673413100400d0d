package secrets

import (
	"context"
	"regexp"
	"strings"

	"github.com/mvaldr/cascade/pkg/schema"
)

// placeholderRe matches ${{secrets.KEY}} references inside string values.
var placeholderRe = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z0-9_.-]+)\s*\}\}`)

// ResolvePlaceholders returns a copy of m with every ${{secrets.KEY}}
// reference in string values replaced by the decrypted secret. Nested maps
// and slices are walked recursively; the input is never mutated. An unknown
// key fails the whole resolution.
func ResolvePlaceholders(ctx context.Context, vault Vault, m map[string]any) (map[string]any, error) {
	if m == nil || vault == nil {
		return m, nil
	}
	resolved, err := resolveValue(ctx, vault, m)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func resolveValue(ctx context.Context, vault Vault, v any) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(ctx, vault, val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			r, err := resolveValue(ctx, vault, inner)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			r, err := resolveValue(ctx, vault, inner)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(ctx context.Context, vault Vault, s string) (string, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}

	var resolveErr error
	replaced := placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		if resolveErr != nil {
			return match
		}
		key := placeholderRe.FindStringSubmatch(match)[1]
		value, err := vault.Resolve(ctx, key)
		if err != nil {
			resolveErr = schema.NewErrorf(schema.ErrCodeVault,
				"cannot resolve secret %q", key).WithCause(err)
			return match
		}
		return string(value)
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return replaced, nil
}
