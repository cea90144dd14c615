package sqlbridge

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/jmoiron/sqlx"

	"github.com/leftmike/kumo/engine"
)

type copyCmd struct {
	table     string
	columns   []string
	fileName  string
	delimiter rune
	batchSize int
}

// defaultCopyBatchSize is the file chunk size, in bytes, suggested to the
// client when the COPY statement does not name one.
const defaultCopyBatchSize = 4096

// flushRows is how many parsed rows are buffered before they are written
// upstream.
const flushRows = 128

func takeWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	idx := 0
	for idx < len(s) && !unicode.IsSpace(rune(s[idx])) && s[idx] != '(' && s[idx] != '\'' {
		idx += 1
	}
	return s[:idx], s[idx:]
}

func takeKeyword(s, kw string) (string, bool) {
	word, rest := takeWord(s)
	if !strings.EqualFold(word, kw) {
		return s, false
	}
	return rest, true
}

func takeString(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || s[0] != '\'' {
		return "", s, fmt.Errorf("sqlbridge: copy: expected a quoted string")
	}

	var buf strings.Builder
	idx := 1
	for idx < len(s) {
		if s[idx] == '\'' {
			if idx+1 < len(s) && s[idx+1] == '\'' {
				buf.WriteByte('\'')
				idx += 2
				continue
			}
			return buf.String(), s[idx+1:], nil
		}
		buf.WriteByte(s[idx])
		idx += 1
	}
	return "", s, fmt.Errorf("sqlbridge: copy: unterminated string")
}

// parseCopy parses COPY <table> (<column>, ...) FROM '<file>'
// [DELIMITER '<c>'] [BATCH SIZE <n>]. The file is read by the client and
// shipped to the server in batches of at most batchSize bytes.
func parseCopy(stmt string) (copyCmd, error) {
	cmd := copyCmd{delimiter: '\t', batchSize: defaultCopyBatchSize}

	rest, ok := takeKeyword(stmt, "copy")
	if !ok {
		return cmd, fmt.Errorf("sqlbridge: copy: expected copy: %s", stmt)
	}

	cmd.table, rest = takeWord(rest)
	if cmd.table == "" {
		return cmd, fmt.Errorf("sqlbridge: copy: expected a table name")
	}

	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") {
		return cmd, fmt.Errorf("sqlbridge: copy: expected a column list")
	}
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return cmd, fmt.Errorf("sqlbridge: copy: missing ) after columns")
	}
	for _, col := range strings.Split(rest[1:end], ",") {
		col = strings.TrimSpace(col)
		if col == "" {
			return cmd, fmt.Errorf("sqlbridge: copy: empty column name")
		}
		cmd.columns = append(cmd.columns, col)
	}
	rest = rest[end+1:]

	rest, ok = takeKeyword(rest, "from")
	if !ok {
		return cmd, fmt.Errorf("sqlbridge: copy: expected from")
	}

	var err error
	cmd.fileName, rest, err = takeString(rest)
	if err != nil {
		return cmd, err
	}

	for {
		var word string
		word, rest = takeWord(rest)
		if word == "" {
			break
		}
		switch strings.ToLower(word) {
		case "delimiter":
			var s string
			s, rest, err = takeString(rest)
			if err != nil {
				return cmd, err
			}
			rs := []rune(s)
			if len(rs) != 1 {
				return cmd,
					fmt.Errorf("sqlbridge: copy: delimiter must be a single character: %s", s)
			}
			cmd.delimiter = rs[0]
		case "batch":
			rest, ok = takeKeyword(rest, "size")
			if !ok {
				return cmd, fmt.Errorf("sqlbridge: copy: expected size after batch")
			}
			word, rest = takeWord(rest)
			n, aerr := strconv.Atoi(word)
			if aerr != nil || n <= 0 {
				return cmd, fmt.Errorf("sqlbridge: copy: invalid batch size: %s", word)
			}
			cmd.batchSize = n
		default:
			return cmd, fmt.Errorf("sqlbridge: copy: unexpected %s", word)
		}
	}
	return cmd, nil
}

func (ses *session) startCopy(ctx context.Context, stmt string,
	opts engine.ExecuteOptions) (engine.Result, error) {

	cmd, err := parseCopy(stmt)
	if err != nil {
		return engine.Result{}, err
	}

	snk, err := newCopySink(ctx, ses.br.db, cmd, opts.Schema)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{
		BulkLoad: &engine.BulkLoad{
			FileName:  cmd.fileName,
			BatchSize: cmd.batchSize,
			Sink:      snk,
		},
		Tag: "COPY",
	}, nil
}

// copySink ingests text format file data into the upstream table inside one
// transaction. Rows may straddle batch boundaries, so incoming data is
// buffered and only complete lines are parsed; the escape state carries
// across batches.
type copySink struct {
	tx      *sqlx.Tx
	stmt    *sqlx.Stmt
	numCols int
	delim   rune

	buf      []byte
	complete int // buf[:complete] ends on a row boundary
	escaped  bool
	done     bool
	line     int

	pending [][]interface{}
	loaded  int64
}

func newCopySink(ctx context.Context, db *sqlx.DB, cmd copyCmd,
	schema string) (*copySink, error) {

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}
	if schema != "" {
		_, err = tx.ExecContext(ctx, "SET LOCAL search_path TO "+quoteIdent(schema))
		if err != nil {
			tx.Rollback()
			return nil, mapError(err)
		}
	}

	marks := make([]string, len(cmd.columns))
	quoted := make([]string, len(cmd.columns))
	for idx, col := range cmd.columns {
		marks[idx] = "?"
		quoted[idx] = quoteIdent(col)
	}
	// The table name is written the way the client sent it; it may be
	// schema qualified.
	insert := db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		cmd.table, strings.Join(quoted, ", "), strings.Join(marks, ", ")))

	stmt, err := tx.PreparexContext(ctx, insert)
	if err != nil {
		tx.Rollback()
		return nil, mapError(err)
	}

	return &copySink{
		tx:      tx,
		stmt:    stmt,
		numCols: len(cmd.columns),
		delim:   cmd.delimiter,
		line:    1,
	}, nil
}

func (snk *copySink) Append(ctx context.Context, data []byte) (int64, error) {
	if snk.done {
		return snk.loaded + int64(len(snk.pending)), nil
	}

	start := len(snk.buf)
	snk.buf = append(snk.buf, data...)
	for idx := start; idx < len(snk.buf); idx += 1 {
		if snk.escaped {
			snk.escaped = false
		} else if snk.buf[idx] == '\\' {
			snk.escaped = true
		} else if snk.buf[idx] == '\n' {
			snk.complete = idx + 1
		}
	}

	err := snk.parseComplete(ctx)
	if err != nil {
		return 0, err
	}
	if len(snk.pending) >= flushRows {
		err = snk.flush(ctx)
		if err != nil {
			return 0, err
		}
	}
	return snk.loaded + int64(len(snk.pending)), nil
}

func (snk *copySink) parseComplete(ctx context.Context) error {
	if snk.complete == 0 {
		return nil
	}

	rdr := newTextReader("copy", bytes.NewReader(snk.buf[:snk.complete]), snk.line)
	err := copyFromText(rdr, snk.numCols, snk.delim, func(vals []interface{}) error {
		row := make([]interface{}, len(vals))
		copy(row, vals)
		snk.pending = append(snk.pending, row)
		return nil
	})
	if err != nil {
		return err
	}
	snk.line = rdr.line
	snk.done = rdr.done

	n := copy(snk.buf, snk.buf[snk.complete:])
	snk.buf = snk.buf[:n]
	snk.complete = 0
	return nil
}

func (snk *copySink) flush(ctx context.Context) error {
	for _, row := range snk.pending {
		_, err := snk.stmt.ExecContext(ctx, row...)
		if err != nil {
			return mapError(err)
		}
	}
	snk.loaded += int64(len(snk.pending))
	snk.pending = snk.pending[:0]
	return nil
}

func (snk *copySink) finish(ctx context.Context) error {
	if !snk.done && len(snk.buf) > 0 {
		// The final row of the file may lack a trailing newline.
		if snk.escaped {
			return fmt.Errorf("sqlbridge: copy: truncated row")
		}
		if snk.buf[len(snk.buf)-1] != '\n' {
			snk.buf = append(snk.buf, '\n')
		}
		snk.complete = len(snk.buf)
		err := snk.parseComplete(ctx)
		if err != nil {
			return err
		}
	}
	return snk.flush(ctx)
}

func (snk *copySink) Close(ctx context.Context, abort bool) (int64, error) {
	defer snk.stmt.Close()

	if abort {
		err := snk.tx.Rollback()
		if err != nil {
			return 0, mapError(err)
		}
		return 0, nil
	}

	err := snk.finish(ctx)
	if err != nil {
		snk.tx.Rollback()
		return snk.loaded, err
	}
	err = snk.tx.Commit()
	if err != nil {
		return snk.loaded, mapError(err)
	}
	return snk.loaded, nil
}
