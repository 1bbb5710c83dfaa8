package main

import (
	"context"
	"io"
	"os"
	"loom/loomfs"
)

func cmdWrite(args []string) {
	if len(args) < 1 {
		writeError("usage: loomfs write <path> (content on stdin)")
		return
	}

	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		writeError("failed to read stdin: " + err.Error())
		return
	}

	fs := loomfs.NewLocalFS()
	result, err := fs.WriteFile(context.Background(), args[0], string(content))
	if err != nil {
		writeError(err.Error())
		return
	}
	writeOK(result)
}
