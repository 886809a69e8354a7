package paths

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSocketUnderRuntime(t *testing.T) {
	if filepath.Dir(Socket()) != Runtime() {
		t.Fatalf("socket %q is not under runtime dir %q", Socket(), Runtime())
	}
	if !strings.HasSuffix(Socket(), "kiln.sock") {
		t.Fatalf("socket = %q, want kiln.sock", Socket())
	}
}

func TestCacheDBUnderCache(t *testing.T) {
	if filepath.Dir(CacheDB()) != Cache() {
		t.Fatalf("cache db %q is not under cache dir %q", CacheDB(), Cache())
	}
}

func TestConfigFileName(t *testing.T) {
	if filepath.Base(ConfigFile()) != "config.yaml" {
		t.Fatalf("config file = %q", ConfigFile())
	}
}
