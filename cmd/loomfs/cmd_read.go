package main

import (
	"context"
	"loom/loomfs"
)

func cmdRead(args []string) {
	if len(args) < 1 {
		writeError("usage: loomfs read <path>")
		return
	}

	fs := loomfs.NewLocalFS()
	content, err := fs.ReadFile(context.Background(), args[0])
	if err != nil {
		writeError(err.Error())
		return
	}
	writeOK(content)
}
