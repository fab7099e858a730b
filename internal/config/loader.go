package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

const escapedDollar = "\x00ESCAPED_DOLLAR\x00"

// LoadConfig reads, substitutes and decodes the configuration at path, then
// applies defaults. Relative schema and cost map paths resolve against the
// directory of path.
func LoadConfig(path string) (*GuardConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.baseDir = filepath.Dir(absPath)
	return cfg, nil
}

// LoadConfigFromReader decodes configuration from r. Relative paths resolve
// against the working directory.
func LoadConfigFromReader(r io.Reader) (*GuardConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*GuardConfig, error) {
	content := substituteEnvVars(string(data))

	var cfg GuardConfig
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// substituteEnvVars expands ${VAR} and ${VAR:-default}. "$$" yields a literal "$".
func substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", escapedDollar)

	content = envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(sub[1]); ok {
			return value
		}
		return sub[2]
	})

	return strings.ReplaceAll(content, escapedDollar, "$")
}

// resolvePath makes p absolute against the config's base directory.
func (c *GuardConfig) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// SchemaPath returns the absolute schema file path, or "" for inline schemas.
func (c *GuardConfig) SchemaPath() string {
	return c.resolvePath(c.Spec.Schema.Path)
}

// CostMapPath returns the absolute cost map file path, or "".
func (c *GuardConfig) CostMapPath() string {
	return c.resolvePath(c.Spec.CostMap.Path)
}

// ReferencedFiles lists the files besides the config itself whose changes
// require a reload.
func (c *GuardConfig) ReferencedFiles() []string {
	var files []string
	if p := c.SchemaPath(); p != "" {
		files = append(files, p)
	}
	if p := c.CostMapPath(); p != "" {
		files = append(files, p)
	}
	return files
}

// ResolveSchema returns the configured SDL, reading it from disk when the
// schema is given by path. It returns "" when no schema is configured.
func ResolveSchema(cfg *GuardConfig) (string, error) {
	if cfg.Spec.Schema.Inline != "" {
		return cfg.Spec.Schema.Inline, nil
	}
	path := cfg.SchemaPath()
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return "", fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return string(data), nil
}

// ResolveCostMap merges the cost map file, if any, with the inline entries
// and validates the result.
func ResolveCostMap(cfg *GuardConfig) (map[string]int64, error) {
	costs := make(map[string]int64)

	if path := cfg.CostMapPath(); path != "" {
		fromFile, err := LoadCostMap(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			costs[k] = v
		}
	}
	for k, v := range cfg.Spec.CostMap.Inline {
		costs[k] = v
	}

	if err := ValidateCostMap(costs); err != nil {
		return nil, err
	}
	return costs, nil
}

// LoadCostMap reads a YAML mapping of "Type.field" to weight.
func LoadCostMap(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read cost map %s: %w", path, err)
	}
	costs, err := ParseCostMap(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return costs, nil
}

// ParseCostMap decodes a YAML mapping of "Type.field" to weight. It does
// not validate the entries.
func ParseCostMap(data []byte) (map[string]int64, error) {
	costs := make(map[string]int64)
	if len(bytes.TrimSpace(data)) == 0 {
		return costs, nil
	}
	if err := yaml.Unmarshal(data, &costs); err != nil {
		return nil, fmt.Errorf("failed to parse cost map: %w", err)
	}
	return costs, nil
}
