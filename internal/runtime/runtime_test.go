package runtime

import (
	"strings"
	"testing"

	"github.com/distribution/reference"
)

func TestImageTag(t *testing.T) {
	tag := imageTag("/srv/bases/python-3.12-slim.tar")

	named, err := reference.ParseNormalizedNamed(tag)
	if err != nil {
		t.Fatalf("imageTag = %q is not a valid reference: %v", tag, err)
	}
	if !strings.HasPrefix(named.String(), "kiln.local/archive/") {
		t.Errorf("tag %q is outside kiln.local/archive/", tag)
	}
	if tagged, ok := named.(reference.Tagged); !ok || tagged.Tag() != "latest" {
		t.Errorf("tag %q is not tagged latest", tag)
	}

	if imageTag("/srv/bases/python-3.12-slim.tar") != tag {
		t.Error("imageTag is not deterministic")
	}
	if imageTag("/srv/bases/python-3.13-slim.tar") == tag {
		t.Error("different archives share a tag")
	}
}

func TestDefaultPlatform(t *testing.T) {
	os, arch, ok := strings.Cut(DefaultPlatform(), "/")
	if !ok || os != "linux" || arch == "" || strings.Contains(arch, "/") {
		t.Fatalf("DefaultPlatform = %q, want linux/<arch>", DefaultPlatform())
	}
}
