// Command zpng compresses, decompresses and inspects DEFLATE, zlib and PNG
// files.
package main

import (
	"os"
)

func main() {
	if err := execute(newRootCommand()); err != nil {
		os.Exit(1)
	}
}
