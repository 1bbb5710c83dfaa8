package main

import (
	"context"
	"strings"
	"loom/loomfs"
)

func cmdExec(args []string) {
	if len(args) < 1 {
		writeError("usage: loomfs exec <command>")
		return
	}

	command := strings.Join(args, " ")

	fs := loomfs.NewLocalFS()
	result, err := fs.Exec(context.Background(), command)
	if err != nil {
		writeError(err.Error())
		return
	}
	writeOK(result)
}
