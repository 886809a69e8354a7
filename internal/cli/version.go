package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/cruciblehq/kiln/internal"
)

// Represents the 'kiln version' command.
type VersionCmd struct {
	JSON bool `help:"Print build metadata as JSON."`
}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	if c.JSON {
		return printJSON(os.Stdout, internal.Info())
	}
	fmt.Println(internal.VersionString())
	return nil
}
