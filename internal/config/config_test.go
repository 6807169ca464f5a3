package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Items.RootPrefix != "root" || cfg.Ready.DefaultLimit != 20 || cfg.Ready.MaxDepth != 32 || !cfg.Progress.AutoClose {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("items:\n  root_prefix: course\nprogress:\n  auto_close: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Items.RootPrefix != "course" {
		t.Fatalf("prefix = %q", cfg.Items.RootPrefix)
	}
	if cfg.Progress.AutoClose {
		t.Fatalf("auto_close should be overridden")
	}
	if cfg.Ready.MaxDepth != 32 || cfg.Validation.DefaultContentKind != "text" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"prefix":  "items:\n  root_prefix: Bad-Prefix\n",
		"limit":   "ready:\n  default_limit: -1\n",
		"depth":   "ready:\n  max_depth: 0\n",
		"kind":    "validation:\n  default_content_kind: \"\"\n",
		"min_len": "validation:\n  min_length: -3\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("optional load: %v", err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "sl init") {
		t.Fatalf("expected missing config error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stepline.yml"), []byte(GenerateDefault("proj")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Items.RootPrefix != "proj" {
		t.Fatalf("prefix = %q", cfg.Items.RootPrefix)
	}
}
