// Command blockcached runs the block cache daemon: it builds a
// coordinator, an S3 origin reader, and the local disk backend, and
// exposes health and metrics over HTTP. It opens no cached files itself;
// nothing in it maps client requests to engine.Open calls.
package main

import (
	"fmt"
	"os"

	"github.com/meigma/blockcache/cmd/blockcached/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
