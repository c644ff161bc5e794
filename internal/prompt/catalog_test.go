package prompt

import (
	"strings"
	"testing"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	tpl, ok := c.Get("")
	if !ok {
		t.Fatal("default template missing")
	}
	if !strings.Contains(tpl.Body, "宏观趋势观察家") {
		t.Fatalf("unexpected template body: %q", tpl.Body[:40])
	}
	if !strings.Contains(tpl.Body, "{prediction_horizon}") {
		t.Fatal("expected raw placeholders in template body")
	}
}

func TestFillReplacesKnownPlaceholders(t *testing.T) {
	tpl := Template{Body: "分析 {company_name} ({stock_code}) 于 {prediction_horizon}"}
	got := tpl.Fill(map[string]string{
		"company_name": "中兴通讯",
		"stock_code":   "000063.SZ",
	})
	want := "分析 中兴通讯 (000063.SZ) 于 {prediction_horizon}"
	if got != want {
		t.Fatalf("Fill() = %q, want %q", got, want)
	}
}

func TestParseRejectsUnknownDefault(t *testing.T) {
	_, err := Parse([]byte("default: missing\ntemplates:\n  - name: a\n    body: x\n"))
	if err == nil {
		t.Fatal("expected error for unknown default template")
	}
}
