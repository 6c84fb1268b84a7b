package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildStagingKey names the temporary object a dataframe is staged under
// before COPY reads it: <prefix>/<table>_<UTC timestamp>_<token>.<ext>. The
// token keeps concurrent loads of one table apart.
func BuildStagingKey(prefix, tableName string, at time.Time, token, ext string) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(token, "token"); err != nil {
		return "", err
	}
	if err := validatePathComponent(ext, "extension"); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s.%s", tableName, at.UTC().Format("20060102T150405Z"), token, ext)
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name, nil
	}
	return path.Join(prefix, name), nil
}

// ParseURI splits s3://bucket/key into its bucket and key. The key is taken
// verbatim: '#', '?' and '%' are ordinary key characters, not URL syntax. The
// key may be empty when the uri names a whole bucket.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "s3://")
	if !ok {
		return "", "", fmt.Errorf("expected s3:// scheme in %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in object uri %q", uri)
	}
	return bucket, key, nil
}

func FormatURI(bucket, key string) string {
	return "s3://" + bucket + "/" + strings.TrimPrefix(key, "/")
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
