// Command lqosd is the bandwidth shaper control plane entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/libreqos/lqosd/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
