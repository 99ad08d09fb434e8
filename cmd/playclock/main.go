// ABOUTME: Entry point for the playclock binary
// ABOUTME: Delegates to the cobra command tree
package main

import (
	"context"
	"os"

	"github.com/Resonate-Protocol/playclock/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
