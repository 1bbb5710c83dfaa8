package main

import (
	"context"
	"loom/loomfs"
)

func cmdGlob(args []string) {
	if len(args) < 1 {
		writeError("usage: loomfs glob <pattern> [path]")
		return
	}

	pattern := args[0]
	searchPath := "."
	if len(args) > 1 && args[1] != "" {
		searchPath = args[1]
	}

	fs := loomfs.NewLocalFS()
	result, err := fs.Glob(context.Background(), pattern, searchPath)
	if err != nil {
		writeError(err.Error())
		return
	}
	writeOK(result)
}
