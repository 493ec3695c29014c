package internal

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration_Unmarshal(t *testing.T) {
	var w WatchConfig
	if err := yaml.Unmarshal([]byte("debounce: 250ms\n"), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Debounce.Std() != 250*time.Millisecond {
		t.Errorf("debounce = %v", w.Debounce.Std())
	}

	if err := yaml.Unmarshal([]byte("debounce: soon\n"), &w); err == nil {
		t.Error("invalid duration should fail")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestHTTPConfig_PortBounds(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := HTTPConfig{Port: port}
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d should fail validation", port)
		}
	}
	if err := (&HTTPConfig{Port: 8080}).Validate(); err != nil {
		t.Errorf("port 8080 should pass: %v", err)
	}
}

func TestSiteConfig_RequiresPaths(t *testing.T) {
	cfg := SiteConfig{ContentPath: "", StaticPath: "./static"}
	if err := cfg.Validate(); err == nil {
		t.Error("empty content_path should fail")
	}
	cfg = SiteConfig{ContentPath: "./content", StaticPath: ""}
	if err := cfg.Validate(); err == nil {
		t.Error("empty static_path should fail")
	}
}

func TestConvertConfig_AttachmentsNeedExtensions(t *testing.T) {
	cfg := ConvertConfig{Attachments: true}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("attachments without extensions should fail")
	}
	if !strings.Contains(err.Error(), "attachment_extensions") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.AttachmentExtensions = []string{"png"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("should pass with extensions: %v", err)
	}
}

func TestConvertConfig_TocDepthBounds(t *testing.T) {
	cfg := ConvertConfig{TocMaxDepth: 7}
	if err := cfg.Validate(); err == nil {
		t.Error("toc_max_depth 7 should fail")
	}
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFullConfig_SectionValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}

	cfg = NewDefaultConfig()
	cfg.Vault.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch vault error")
	}
}
