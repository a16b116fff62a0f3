package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// SecretRef is a parsed secret reference of the form
// arn:aws:secretsmanager:<region>:<account>:secret:<name>[:<key>].
type SecretRef struct {
	Region  string
	Account string
	Name    string
	// Key selects one field of a JSON secret. Empty means the whole value.
	Key string
}

func (r SecretRef) String() string {
	s := "arn:aws:secretsmanager:" + r.Region + ":" + r.Account + ":secret:" + r.Name
	if r.Key != "" {
		s += ":" + r.Key
	}
	return s
}

// SecretResolver turns a secret reference into its plain value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref SecretRef) (string, error)
}

var secretRefPattern = regexp.MustCompile(`arn:aws:secretsmanager:([^:\s"']+):([^:\s"']+):secret:([^:\s"']+)(?::([^:\s"']+))?`)

// ExpandSecrets replaces every secret reference in doc with its resolved value.
func ExpandSecrets(ctx context.Context, doc string, resolver SecretResolver) (string, error) {
	var firstErr error
	cache := map[string]string{}
	out := secretRefPattern.ReplaceAllStringFunc(doc, func(match string) string {
		if firstErr != nil {
			return match
		}
		if v, ok := cache[match]; ok {
			return v
		}
		m := secretRefPattern.FindStringSubmatch(match)
		ref := SecretRef{Region: m[1], Account: m[2], Name: m[3], Key: m[4]}
		v, err := resolver.Resolve(ctx, ref)
		if err != nil {
			firstErr = fmt.Errorf("config: resolve secret %s: %w", ref, err)
			return match
		}
		cache[match] = v
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// EnvSecretResolver reads secrets from environment variables. The secret
// named "es/creds" is read from FERRY_SECRET_ES_CREDS. Keyed references
// expect the variable to hold a JSON object.
type EnvSecretResolver struct {
	Prefix string
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// EnvVar returns the variable name holding the secret called name.
func (r EnvSecretResolver) EnvVar(name string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "FERRY_SECRET_"
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, c := range strings.ToUpper(name) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (r EnvSecretResolver) Resolve(_ context.Context, ref SecretRef) (string, error) {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	name := r.EnvVar(ref.Name)
	value, ok := lookup(name)
	if !ok {
		return "", fmt.Errorf("%s is not set", name)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s is empty", name)
	}
	if ref.Key == "" {
		return value, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", fmt.Errorf("%s: expected a JSON object for key %q: %w", name, ref.Key, err)
	}
	v, ok := fields[ref.Key]
	if !ok {
		return "", fmt.Errorf("%s: key %q not found", name, ref.Key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s: key %q is not a non-empty string", name, ref.Key)
	}
	return s, nil
}
