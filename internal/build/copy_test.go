package build

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestParseCopy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		workdir string
		src     string
		dest    string
		dirDest bool
		wantErr bool
	}{
		{
			name:  "absolute dest",
			input: "file.txt /opt/file.txt",
			src:   "file.txt",
			dest:  "/opt/file.txt",
		},
		{
			name:    "relative dest with workdir",
			input:   "file.txt out",
			workdir: "/app",
			src:     "file.txt",
			dest:    "/app/out",
		},
		{
			name:    "trailing slash is a directory",
			input:   "file.txt out/",
			workdir: "/app",
			src:     "file.txt",
			dest:    "/app/out",
			dirDest: true,
		},
		{
			name:    "dot is the workdir",
			input:   "requirements.txt .",
			workdir: "/app",
			src:     "requirements.txt",
			dest:    "/app",
			dirDest: true,
		},
		{
			name:    "whole tree",
			input:   ". .",
			workdir: "/app",
			src:     ".",
			dest:    "/app",
			dirDest: true,
		},
		{
			name:    "relative dest without workdir",
			input:   "file.txt out/",
			wantErr: true,
		},
		{
			name:    "missing destination",
			input:   "file.txt",
			wantErr: true,
		},
		{
			name:    "too many tokens",
			input:   "a b c",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dest, dirDest, err := parseCopy(tt.input, tt.workdir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if src != tt.src {
				t.Errorf("src = %q, want %q", src, tt.src)
			}
			if dest != tt.dest {
				t.Errorf("dest = %q, want %q", dest, tt.dest)
			}
			if dirDest != tt.dirDest {
				t.Errorf("dirDest = %v, want %v", dirDest, tt.dirDest)
			}
		})
	}
}

func TestSplitDest(t *testing.T) {
	tests := []struct {
		dest, dir, name string
	}{
		{"/app/bin", "/app", "bin"},
		{"/app/bin/", "/app", "bin"},
		{"/usr/local/bin/server", "/usr/local/bin", "server"},
		{"/", "/", ""},
	}

	for _, tt := range tests {
		dir, name := splitDest(tt.dest)
		if dir != tt.dir || name != tt.name {
			t.Errorf("splitDest(%q) = (%q, %q), want (%q, %q)", tt.dest, dir, name, tt.dir, tt.name)
		}
	}
}

type tarEntry struct {
	name string
	dir  bool
}

func makeTar(t *testing.T, entries []tarEntry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		h := &tar.Header{Name: e.name, Mode: 0o644, Typeflag: tar.TypeReg}
		if e.dir {
			h.Typeflag = tar.TypeDir
			h.Mode = 0o755
		}
		if err := tw.WriteHeader(h); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func readNames(t *testing.T, r io.Reader) []string {
	t.Helper()
	var names []string
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, h.Name)
	}
}

func TestRetarget(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
		base    string
		target  string
		dirDest bool
		want    []string
	}{
		{
			name:    "directory fills dest",
			entries: []tarEntry{{"venv/", true}, {"venv/bin/", true}, {"venv/bin/python", false}},
			base:    "venv",
			target:  "env",
			want:    []string{"env/", "env/bin/", "env/bin/python"},
		},
		{
			name:    "file renamed",
			entries: []tarEntry{{"server", false}},
			base:    "server",
			target:  "app",
			want:    []string{"app"},
		},
		{
			name:    "file into directory",
			entries: []tarEntry{{"server", false}},
			base:    "server",
			target:  "bin",
			dirDest: true,
			want:    []string{"bin/server"},
		},
		{
			name:    "directory into root",
			entries: []tarEntry{{"out/", true}, {"out/a", false}},
			base:    "out",
			target:  "",
			dirDest: true,
			want:    []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := retarget(makeTar(t, tt.entries), &out, tt.base, tt.target, tt.dirDest); err != nil {
				t.Fatalf("retarget: %v", err)
			}

			got := readNames(t, &out)
			if len(got) != len(tt.want) {
				t.Fatalf("names = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("names = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
