package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
	"github.com/Proton-105/protrader-agent/pkg/config"
)

var dataURLPattern = regexp.MustCompile(`^data:image/(png|jpeg);base64,(.+)$`)

// ConfigFile serves the configuration commands against one YAML file.
type ConfigFile struct {
	path      string
	assetsDir string
	log       *slog.Logger
}

// NewConfigFile manages path. Templates saved by save_template default to assetsDir.
func NewConfigFile(path, assetsDir string, log *slog.Logger) *ConfigFile {
	if log == nil {
		log = slog.Default()
	}
	if assetsDir == "" {
		assetsDir = "./assets"
	}
	return &ConfigFile{path: path, assetsDir: assetsDir, log: log.With("component", "config_file")}
}

// Register binds the configuration commands on d.
func (c *ConfigFile) Register(d *Dispatcher) {
	d.Register("get_config", c.get)
	d.Register("validate_config", c.validate)
	d.Register("set_config", c.set)
	d.Register("patch_config", c.patch)
	d.Register("save_template", c.saveTemplate)
}

func (c *ConfigFile) get(ctx context.Context, _ Command) (Reply, error) {
	c.log.InfoContext(ctx, "fetching configuration", slog.String("path", c.path))

	content, err := c.read()
	if err != nil {
		return Reply{}, err
	}

	return Reply{Type: "config", Data: map[string]string{"content": content}, Meta: map[string]any{"path": c.path}}, nil
}

func (c *ConfigFile) validate(ctx context.Context, cmd Command) (Reply, error) {
	content, _ := cmd.Args["content"].(string)
	c.log.InfoContext(ctx, "validating configuration")

	if _, err := ValidateYAML(content); err != nil {
		return Reply{Type: "config_valid", Data: map[string]any{"ok": false, "error": err.Error()}}, nil
	}
	return Reply{Type: "config_valid", Data: map[string]any{"ok": true}}, nil
}

func (c *ConfigFile) set(ctx context.Context, cmd Command) (Reply, error) {
	content, _ := cmd.Args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return Reply{}, apperrors.NewValidationError("empty YAML content")
	}

	if _, err := ValidateYAML(content); err != nil {
		return Reply{}, apperrors.NewValidationError(fmt.Sprintf("invalid config: %v", err))
	}

	c.log.InfoContext(ctx, "saving configuration", slog.String("path", c.path))
	if err := c.write([]byte(content)); err != nil {
		return Reply{}, err
	}

	return Reply{Type: "config_saved", Data: map[string]any{"ok": true}, Meta: map[string]any{"path": c.path}}, nil
}

func (c *ConfigFile) patch(ctx context.Context, cmd Command) (Reply, error) {
	patch, ok := cmd.Args["patch"].(map[string]any)
	if !ok {
		return Reply{}, apperrors.NewValidationError("patch must be a mapping")
	}

	c.log.InfoContext(ctx, "patching configuration", slog.String("path", c.path))

	content, err := c.read()
	if err != nil {
		return Reply{}, err
	}
	current, err := parseYAML(content)
	if err != nil {
		return Reply{}, apperrors.NewValidationError(err.Error())
	}

	merged := DeepMerge(current, patch)
	if _, err := config.Decode(merged); err != nil {
		return Reply{}, apperrors.NewValidationError(fmt.Sprintf("invalid config after patch: %v", err))
	}

	out, err := yaml.Marshal(merged)
	if err != nil {
		return Reply{}, fmt.Errorf("encode config: %w", err)
	}
	if err := c.write(out); err != nil {
		return Reply{}, err
	}

	return Reply{Type: "config_saved", Data: map[string]any{"ok": true, "patched": true}, Meta: map[string]any{"path": c.path}}, nil
}

func (c *ConfigFile) saveTemplate(ctx context.Context, cmd Command) (Reply, error) {
	var args struct {
		Name    string `mapstructure:"name"`
		File    string `mapstructure:"filename"`
		DataURL string `mapstructure:"data_url"`
	}
	if err := decodeArgs(cmd.Args, &args); err != nil || args.Name == "" || args.File == "" || args.DataURL == "" {
		return Reply{}, apperrors.NewValidationError("save_template needs name, filename and data_url")
	}

	m := dataURLPattern.FindStringSubmatch(args.DataURL)
	if m == nil {
		return Reply{}, apperrors.NewValidationError("invalid data_url")
	}
	raw, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return Reply{}, apperrors.NewValidationError(fmt.Sprintf("invalid data_url: %v", err))
	}

	name := filepath.Clean(args.File)
	if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return Reply{}, apperrors.NewValidationError("filename must stay inside the assets directory")
	}

	out := filepath.Join(c.assetsDir, name)

	c.log.InfoContext(ctx, "saving template", slog.String("name", args.Name), slog.String("path", out))
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Reply{}, fmt.Errorf("create template dir: %w", err)
	}
	if err := os.WriteFile(out, raw, 0o644); err != nil {
		return Reply{}, fmt.Errorf("write template: %w", err)
	}

	return Reply{
		Type: "template_saved",
		Data: map[string]any{"ok": true, "path": out},
		Meta: map[string]any{"name": args.Name, "filename": args.File},
	}, nil
}

func (c *ConfigFile) read() (string, error) {
	// #nosec G304: the config path is chosen by the operator at startup
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		c.log.Warn("config file does not exist", slog.String("path", c.path))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}
	return string(data), nil
}

// write stores content, keeping the previous file as <path>.bak.
func (c *ConfigFile) write(content []byte) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if prev, err := os.ReadFile(c.path); err == nil {
		if err := os.WriteFile(c.path+".bak", prev, 0o600); err != nil {
			return fmt.Errorf("backup config: %w", err)
		}
		c.log.Info("backup created", slog.String("path", c.path+".bak"))
	}

	if err := os.WriteFile(c.path, content, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ValidateYAML parses and validates a configuration document.
func ValidateYAML(content string) (*config.Config, error) {
	raw, err := parseYAML(content)
	if err != nil {
		return nil, err
	}
	return config.Decode(raw)
}

func parseYAML(content string) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("YAML error: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// DeepMerge returns dst with patch applied. Nested mappings merge key by key;
// any other value in patch replaces the one in dst.
func DeepMerge(dst, patch map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(patch))
	for k, v := range dst {
		out[k] = v
	}

	for k, v := range patch {
		pv, pok := v.(map[string]any)
		dv, dok := out[k].(map[string]any)
		if pok && dok {
			out[k] = DeepMerge(dv, pv)
			continue
		}
		out[k] = v
	}

	return out
}
