package runtime

import (
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestMergeEnv(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides []string
		want      []string
	}{
		{"override in place", []string{"A=1", "B=2"}, []string{"A=override"}, []string{"A=override", "B=2"}},
		{"append new key", []string{"A=1"}, []string{"B=2"}, []string{"A=1", "B=2"}},
		{"empty base", nil, []string{"A=1"}, []string{"A=1"}},
		{"both empty", nil, nil, []string{}},
		{"value with equals sign", []string{"CMD=foo=bar"}, nil, []string{"CMD=foo=bar"}},
		{"malformed entries dropped", []string{"NOEQUALS", "A=1"}, []string{"ALSO_BAD", "B=2"}, []string{"A=1", "B=2"}},
		{
			"python flags over image env",
			[]string{"PATH=/usr/bin", "LANG=C.UTF-8", "PYTHON_VERSION=3.12"},
			[]string{"LANG=en_US.UTF-8", "PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
			[]string{"PATH=/usr/bin", "LANG=en_US.UTF-8", "PYTHON_VERSION=3.12", "PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeEnv(tt.base, tt.overrides)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("mergeEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}

	io.WriteString(tb, "abc")
	if got := tb.String(); got != "abc" {
		t.Fatalf("String() = %q, want %q", got, "abc")
	}

	n, err := io.WriteString(tb, "defghijkl")
	if err != nil || n != 9 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if got := tb.String(); got != "efghijkl" {
		t.Errorf("String() = %q, want %q", got, "efghijkl")
	}
}

func TestEOFReader(t *testing.T) {
	eof := make(chan struct{})
	r := &eofReader{r: strings.NewReader("tar bytes"), eof: eof}

	select {
	case <-eof:
		t.Fatal("signalled before reading")
	default:
	}

	data, err := io.ReadAll(r)
	if err != nil || string(data) != "tar bytes" {
		t.Fatalf("ReadAll() = %q, %v", data, err)
	}

	// A second EOF must not close the channel again.
	r.Read(make([]byte, 1))

	select {
	case <-eof:
	default:
		t.Fatal("not signalled after EOF")
	}
}
