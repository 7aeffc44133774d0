package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 3000 || cfg.Server.BaseDir != "dist" || cfg.Server.Notify {
		t.Errorf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Template.Layout != "layout.hbs" || cfg.Template.Partials != "section" {
		t.Errorf("unexpected template defaults %+v", cfg.Template)
	}
	if cfg.Template.Data["firstName"] != "Poly-Bem.js" {
		t.Errorf("expected default firstName, got %v", cfg.Template.Data["firstName"])
	}
	if cfg.Runner.MaxParallel != 4 {
		t.Errorf("expected max_parallel 4, got %d", cfg.Runner.MaxParallel)
	}
	if cfg.File != "" {
		t.Errorf("expected no config file, got %s", cfg.File)
	}
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
dist = "public"

[server]
port = 8080
notify = true

[template]
data_file = "data.yaml"

[template.data]
title = "Home"

[runner]
max_parallel = 1
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dist != "public" || cfg.Assets != "assets" {
		t.Errorf("expected dist override and assets default, got %s %s", cfg.Dist, cfg.Assets)
	}
	if cfg.Server.Port != 8080 || !cfg.Server.Notify || cfg.Server.BaseDir != "dist" {
		t.Errorf("unexpected server %+v", cfg.Server)
	}
	if cfg.Template.Data["title"] != "Home" {
		t.Errorf("expected title Home, got %v", cfg.Template.Data)
	}
	if _, ok := cfg.Template.Data["firstName"]; ok {
		t.Error("expected [template.data] to replace the defaults")
	}
	if cfg.Template.Layout != "layout.hbs" {
		t.Errorf("expected default layout, got %s", cfg.Template.Layout)
	}
	if cfg.Runner.MaxParallel != 1 {
		t.Errorf("expected max_parallel 1, got %d", cfg.Runner.MaxParallel)
	}
	if cfg.File != filepath.Join(dir, FileName) {
		t.Errorf("unexpected config path %s", cfg.File)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[server]\nprot = 1\n")
	if _, err := Load(dir); err == nil {
		t.Error("expected an error for an unknown key")
	}
}

func TestLoad_SyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[server\nport = 1\n")
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if !strings.Contains(err.Error(), FileName) {
		t.Errorf("expected file name in error, got %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[runner]\nmax_parallel = 0\n")
	if _, err := Load(dir); err == nil {
		t.Error("expected a validation error")
	}
}

func TestAbs(t *testing.T) {
	if got := Abs("/root", "assets/section"); got != filepath.Join("/root", "assets", "section") {
		t.Errorf("unexpected path %s", got)
	}
	if got := Abs("/root", "/etc/x"); got != "/etc/x" {
		t.Errorf("expected absolute path unchanged, got %s", got)
	}
	if got := Abs("/root", ""); got != "" {
		t.Errorf("expected empty path unchanged, got %s", got)
	}
}
