// Command dedupfs mounts a deduplicating, optionally compressing FUSE
// filesystem backed by a SQLite metadata store and a bbolt block store.
package main

import (
	"fmt"
	"os"

	"github.com/dedupfs/dedupfs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
