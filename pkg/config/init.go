package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const configHeader = `# nfsd Configuration File
#
# Every value below is the built-in default. Any key may be overridden
# with an NFSD_ environment variable, e.g. NFSD_LOGGING_LEVEL=DEBUG or
# NFSD_NFS_PORT=3049.
#

`

// section is one top-level key of the sample file.
type section struct {
	key     string
	comment string
	value   any
}

func sections(cfg *Config) []section {
	return []section{
		{"logging", "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr or a path).", cfg.Logging},
		{"server", "Process-wide settings.", cfg.Server},
		{"nfs", "NFS and MOUNT transport. Both programs share one port over UDP and TCP.", cfg.NFS},
		{"sessions", "Credential sessions. UDP sessions expire after idle_timeout; TCP sessions end with their connection.", cfg.Sessions},
		{"cache", "Per-session open-file cache and READDIR cursor tables.", cfg.Cache},
		{"rate_limit", "Token buckets applied before dispatch. A zero rate disables a bucket.", cfg.RateLimit},
		{"portmap", "Embedded portmapper (program 100000 v2). Leave disabled when rpcbind is running.", cfg.Portmap},
		{"metrics", "Prometheus endpoint served at /metrics.", cfg.Metrics},
		{"shares", "Exports. Clients mount \"/<name>\". Drivers: memory, local (options.root),\n# badger (options.path or options.in_memory), s3 (options.bucket, options.region).", cfg.Shares},
	}
}

// WriteDefault writes a commented sample configuration holding the defaults.
func WriteDefault(w io.Writer) error {
	return writeConfig(w, GetDefaultConfig())
}

func writeConfig(w io.Writer, cfg *Config) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range sections(cfg) {
		value, err := toPlain(s.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", s.key, err)
		}

		var node yaml.Node
		if err := node.Encode(value); err != nil {
			return fmt.Errorf("encode %s: %w", s.key, err)
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.key, HeadComment: "# " + s.comment}
		root.Content = append(root.Content, key, &node)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// toPlain turns config structs into maps keyed by their mapstructure names
// so the written file reads back through viper unchanged.
func toPlain(v any) (any, error) {
	if shares, ok := v.([]ShareConfig); ok {
		out := make([]any, 0, len(shares))
		for _, s := range shares {
			m, err := toPlain(s)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	}

	var m map[string]any
	if err := mapstructure.Decode(v, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// InitConfig writes the sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the sample configuration to path, creating its
// directory as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := WriteDefault(&buf); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
