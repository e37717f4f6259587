// Package main is the entry point for the LocalGhost authorization kernel
// daemon.
package main

import (
	"fmt"
	"os"

	"github.com/stacklok/localghost/cmd/localghostd/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "there was an error: %v\n", err)
		os.Exit(1)
	}
}
