package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrNoOverrideFile is returned when no local override file is found in
// any searched location.
var ErrNoOverrideFile = errors.New("config: no local override file found")

// OverrideFile is the optional local file that pre-seeds boot-time
// environment defaults (bootstrap relays, admin-app URL, temp dir,
// ports) before environment variables are consulted. An explicit
// environment variable always wins over a value set here.
type OverrideFile struct {
	BootstrapRelays []string `yaml:"bootstrap_relays" toml:"bootstrap_relays" json:"bootstrap_relays"`
	AdminAppURL     string   `yaml:"admin_app_url" toml:"admin_app_url" json:"admin_app_url"`
	TempDir         string   `yaml:"temp_dir" toml:"temp_dir" json:"temp_dir"`
	HTTPPort        int      `yaml:"http_port" toml:"http_port" json:"http_port"`
	FFmpegPath      string   `yaml:"ffmpeg_path" toml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath     string   `yaml:"ffprobe_path" toml:"ffprobe_path" json:"ffprobe_path"`
	DataDir         string   `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
}

// LoadOverrideFile searches dir, then fallbackDir, for dvm.yaml /
// dvm.yml / dvm.toml / dvm.json and parses the first one found.
func LoadOverrideFile(dir, fallbackDir string) (*OverrideFile, string, error) {
	candidates := []struct {
		name   string
		parser func([]byte, *OverrideFile) error
	}{
		{"dvm.yaml", parseYAML},
		{"dvm.yml", parseYAML},
		{"dvm.toml", parseTOML},
		{"dvm.json", parseJSON},
	}

	searchDirs := []string{dir}
	if fallbackDir != "" && fallbackDir != dir {
		searchDirs = append(searchDirs, fallbackDir)
	}

	for _, searchDir := range searchDirs {
		for _, c := range candidates {
			path := filepath.Join(searchDir, c.name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var f OverrideFile
			if err := c.parser(data, &f); err != nil {
				return nil, path, &ConfigError{Kind: KindParse, Err: fmt.Errorf("parse %s: %w", path, err)}
			}
			return &f, path, nil
		}
	}

	return nil, "", ErrNoOverrideFile
}

func parseYAML(data []byte, f *OverrideFile) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(f)
}

func parseTOML(data []byte, f *OverrideFile) error {
	_, err := toml.Decode(string(data), f)
	return err
}

func parseJSON(data []byte, f *OverrideFile) error {
	return json.Unmarshal(data, f)
}

// ApplyAsEnvDefaults sets environment variables for any field the
// override file specifies but the environment does not already set,
// so a subsequent LoadBoot() sees the file's values only where the
// environment is silent.
func (f *OverrideFile) ApplyAsEnvDefaults() {
	setIfUnset := func(key, value string) {
		if value == "" {
			return
		}
		if _, present := os.LookupEnv(key); present {
			return
		}
		os.Setenv(key, value)
	}

	if len(f.BootstrapRelays) > 0 {
		setIfUnset("BOOTSTRAP_RELAYS", joinComma(f.BootstrapRelays))
	}
	setIfUnset("DVM_ADMIN_APP_URL", f.AdminAppURL)
	setIfUnset("TEMP_DIR", f.TempDir)
	setIfUnset("FFMPEG_PATH", f.FFmpegPath)
	setIfUnset("FFPROBE_PATH", f.FFprobePath)
	setIfUnset("DATA_DIR", f.DataDir)
	if f.HTTPPort != 0 {
		if _, present := os.LookupEnv("HTTP_PORT"); !present {
			os.Setenv("HTTP_PORT", fmt.Sprintf("%d", f.HTTPPort))
		}
	}
}

func joinComma(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}
