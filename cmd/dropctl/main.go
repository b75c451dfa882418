// Command dropctl seeds, inspects and reconciles membership drops.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cmd := newRootCommand(connectBackend)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dropctl:", err)
		os.Exit(1)
	}
}
