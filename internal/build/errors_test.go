package build

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCommandError(t *testing.T) {
	err := fmt.Errorf("%w: step 5: %w", ErrBuild, &CommandError{
		Command:  "pip install -r requirements.txt",
		ExitCode: 1,
		Stderr:   "ERROR: No matching distribution found for djangoo\n",
	})

	if !errors.Is(err, ErrCommandFailed) {
		t.Fatal("expected ErrCommandFailed in chain")
	}
	if !errors.Is(err, ErrBuild) {
		t.Fatal("expected ErrBuild in chain")
	}

	code, ok := ExitCode(err)
	if !ok || code != 1 {
		t.Fatalf("ExitCode = %d, %v; want 1, true", code, ok)
	}

	if !strings.Contains(err.Error(), "No matching distribution") {
		t.Fatalf("message %q lacks stderr", err.Error())
	}
}

func TestExitCodeOther(t *testing.T) {
	if _, ok := ExitCode(ErrCopy); ok {
		t.Fatal("ExitCode reported a command failure for ErrCopy")
	}
}
