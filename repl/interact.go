package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
)

const (
	kumoHistory = ".kumo_history"
)

type lineReader struct {
	line *liner.State
	r    *strings.Reader
}

func (lr *lineReader) ReadRune() (r rune, size int, err error) {
	for {
		if lr.r == nil {
			s, err := lr.line.Prompt("kumo: ")
			if err != nil {
				return 0, 0, err
			}
			lr.line.AppendHistory(s)
			// The newline terminates line comments.
			lr.r = strings.NewReader(s + "\n")
		}

		r, sz, err := lr.r.ReadRune()
		if err == io.EOF {
			lr.r = nil
		} else if err != nil {
			return 0, 0, err
		} else {
			return r, sz, nil
		}
	}
}

// Interact runs the console on stdin and stdout with line editing and
// history.
func Interact(ctx context.Context, run Runner) {
	line := liner.NewLiner()
	defer line.Close()

	if f, err := os.Open(kumoHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	ReplSQL(ctx, run, &lineReader{line: line}, os.Stdout)

	if f, err := os.Create(kumoHistory); err != nil {
		fmt.Fprintf(os.Stderr, "kumo: error writing history file, %s: %s", kumoHistory, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
}
