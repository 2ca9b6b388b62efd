// Command travelbot runs the travel assistant from the terminal or as an
// HTTP service.
package main

import (
	"fmt"
	"os"

	"github.com/dshills/langgraph-travel/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
