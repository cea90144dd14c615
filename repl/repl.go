// Package repl reads statements, runs them, and renders the results as
// tables. It backs the interactive console and the SSH listener.
package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/leftmike/kumo/engine"
)

// Runner runs one statement for the console. Both an engine session and a
// remote connection satisfy it.
type Runner interface {
	Run(ctx context.Context, sql string) ([]engine.Result, error)
}

type sessionRunner struct {
	ses engine.Session
}

// SessionRunner adapts an engine session to the console.
func SessionRunner(ses engine.Session) Runner {
	return sessionRunner{ses: ses}
}

func (sr sessionRunner) Run(ctx context.Context, sql string) ([]engine.Result, error) {
	return sr.ses.Execute(ctx, engine.Query{SQL: sql},
		engine.ExecuteOptions{AutoCommit: true, MultiStatements: true})
}

// readStatement reads up to the next semicolon outside of strings and
// comments. At end of input any remaining text is the final statement.
func readStatement(rr io.RuneReader) (string, error) {
	var buf strings.Builder
	var quote, comment, prev rune

	for {
		r, _, err := rr.ReadRune()
		if err != nil {
			stmt := strings.TrimSpace(buf.String())
			if err == io.EOF && stmt != "" {
				return stmt, nil
			}
			return "", err
		}

		if comment == '-' {
			if r == '\n' {
				comment = 0
			}
			buf.WriteRune(r)
			prev = r
			continue
		}
		if comment == '*' {
			if prev == '*' && r == '/' {
				comment = 0
				buf.WriteRune(r)
				prev = 0
				continue
			}
			buf.WriteRune(r)
			prev = r
			continue
		}
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			buf.WriteRune(r)
			prev = r
			continue
		}

		switch r {
		case '\'', '"':
			quote = r
		case ';':
			stmt := strings.TrimSpace(buf.String())
			buf.Reset()
			prev = 0
			if stmt == "" {
				continue
			}
			return stmt, nil
		case '-':
			if prev == '-' {
				comment = '-'
			}
		case '*':
			if prev == '/' {
				// The opening star must not double as the closing star.
				comment = '*'
				buf.WriteRune(r)
				prev = 0
				continue
			}
		}
		buf.WriteRune(r)
		prev = r
	}
}

// ReplSQL reads statements from rr and runs them until end of input;
// results and errors go to w.
func ReplSQL(ctx context.Context, run Runner, rr io.RuneReader, w io.Writer) {
	for {
		stmt, err := readStatement(rr)
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintln(w, err)
			return
		}

		results, err := run.Run(ctx, stmt)
		if err != nil {
			fmt.Fprintln(w, err)
			continue
		}

		for _, res := range results {
			err = replResult(ctx, res, w)
			if err != nil {
				fmt.Fprintln(w, err)
			}
		}
	}
}

func formatValue(v interface{}) string {
	if v == nil {
		return "NULL"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func replResult(ctx context.Context, res engine.Result, w io.Writer) error {
	if res.BulkLoad != nil {
		return replBulkLoad(ctx, res.BulkLoad, w)
	}

	if res.IsQuery() {
		defer res.Rows.Close()

		tw := tablewriter.NewWriter(w)
		tw.SetAutoFormatHeaders(false)

		cols := res.Rows.Columns()
		row := make([]string, len(cols))
		for cdx, cm := range cols {
			row[cdx] = cm.Name
		}
		tw.SetHeader(row)

		dest := make([]interface{}, len(cols))
		for {
			err := res.Rows.Next(ctx, dest)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}

			for cdx, v := range dest {
				row[cdx] = formatValue(v)
			}
			tw.Append(row)
		}
		tw.Render()
		fmt.Fprintf(w, "(%d rows)\n", tw.NumLines())
		return nil
	}

	switch res.Tag {
	case "INSERT", "UPDATE", "DELETE", "":
		fmt.Fprintf(w, "%d rows updated\n", res.UpdateCount)
	default:
		fmt.Fprintln(w, res.Tag)
	}
	return nil
}

// replBulkLoad reads the named local file and feeds it to the sink; the
// console runs on the host, so the file is read server side.
func replBulkLoad(ctx context.Context, bl *engine.BulkLoad, w io.Writer) error {
	f, err := os.Open(bl.FileName)
	if err != nil {
		bl.Sink.Close(ctx, true)
		return err
	}
	defer f.Close()

	data := make([]byte, bl.BatchSize)
	for {
		n, err := f.Read(data)
		if n > 0 {
			_, aerr := bl.Sink.Append(ctx, data[:n])
			if aerr != nil {
				bl.Sink.Close(ctx, true)
				return aerr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			bl.Sink.Close(ctx, true)
			return err
		}
	}

	cnt, err := bl.Sink.Close(ctx, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d rows loaded\n", cnt)
	return nil
}
