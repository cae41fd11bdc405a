// Package main provides pfc, the paraFlow compiler.
package main

import (
	"os"
)

func main() {
	if err := execute(newRootCmd()); err != nil {
		os.Exit(1)
	}
}
