// Command credpool administers an encrypted credential pool document.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Getenv).Execute(); err != nil {
		os.Exit(1)
	}
}
