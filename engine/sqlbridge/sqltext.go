package sqlbridge

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// splitStatements splits sql on semicolons, respecting quoted strings,
// quoted identifiers, and comments. Empty statements are dropped.
func splitStatements(sql string) ([]string, error) {
	var stmts []string
	var buf strings.Builder

	rs := []rune(sql)
	for idx := 0; idx < len(rs); idx += 1 {
		r := rs[idx]
		switch r {
		case ';':
			stmt := strings.TrimSpace(buf.String())
			if stmt != "" {
				stmts = append(stmts, stmt)
			}
			buf.Reset()
			continue
		case '\'', '"':
			q := r
			buf.WriteRune(r)
			idx += 1
			for ; idx < len(rs); idx += 1 {
				buf.WriteRune(rs[idx])
				if rs[idx] == q {
					if idx+1 < len(rs) && rs[idx+1] == q {
						idx += 1
						buf.WriteRune(rs[idx])
						continue
					}
					break
				}
			}
			if idx == len(rs) {
				return nil, fmt.Errorf("sqlbridge: unterminated string")
			}
			continue
		case '-':
			if idx+1 < len(rs) && rs[idx+1] == '-' {
				for idx < len(rs) && rs[idx] != '\n' {
					idx += 1
				}
				buf.WriteRune(' ')
				continue
			}
		case '/':
			if idx+1 < len(rs) && rs[idx+1] == '*' {
				idx += 2
				for idx+1 < len(rs) && !(rs[idx] == '*' && rs[idx+1] == '/') {
					idx += 1
				}
				if idx+1 >= len(rs) {
					return nil, fmt.Errorf("sqlbridge: unterminated comment")
				}
				idx += 1
				buf.WriteRune(' ')
				continue
			}
		}
		buf.WriteRune(r)
	}

	stmt := strings.TrimSpace(buf.String())
	if stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func firstKeyword(stmt string) string {
	flds := strings.Fields(stmt)
	if len(flds) == 0 {
		return ""
	}
	return strings.ToLower(flds[0])
}

func queryKeyword(kw string) bool {
	switch kw {
	case "select", "values", "show", "with", "explain", "table":
		return true
	}
	return false
}

type streamingCmd struct {
	on        bool
	ordered   bool
	batchSize int
}

const defaultStreamBatchSize = 2048

// parseSetStreaming recognizes the gateway statement
// SET STREAMING ON|OFF [ORDERED] [BATCH_SIZE n]. Any other SET statement
// belongs to the upstream.
func parseSetStreaming(stmt string) (streamingCmd, bool, error) {
	flds := strings.Fields(strings.ToLower(stmt))
	if len(flds) < 3 || flds[0] != "set" || flds[1] != "streaming" {
		return streamingCmd{}, false, nil
	}

	cmd := streamingCmd{batchSize: defaultStreamBatchSize}
	switch flds[2] {
	case "on", "1":
		cmd.on = true
	case "off", "0":
	default:
		return streamingCmd{}, true,
			fmt.Errorf("sqlbridge: set streaming: want on or off: %s", flds[2])
	}
	if !cmd.on && len(flds) > 3 {
		return streamingCmd{}, true,
			fmt.Errorf("sqlbridge: set streaming off takes no options")
	}

	for idx := 3; idx < len(flds); idx += 1 {
		switch flds[idx] {
		case "ordered":
			cmd.ordered = true
		case "batch_size":
			idx += 1
			if idx == len(flds) {
				return streamingCmd{}, true,
					fmt.Errorf("sqlbridge: set streaming: missing batch size")
			}
			n, err := strconv.Atoi(flds[idx])
			if err != nil || n <= 0 {
				return streamingCmd{}, true,
					fmt.Errorf("sqlbridge: set streaming: invalid batch size: %s", flds[idx])
			}
			cmd.batchSize = n
		default:
			return streamingCmd{}, true,
				fmt.Errorf("sqlbridge: set streaming: unexpected %s", flds[idx])
		}
	}
	return cmd, true, nil
}

// countPlaceholders counts the parameter markers of stmt: ? markers or $n
// references, whichever the statement uses.
func countPlaceholders(stmt string) (int, error) {
	var question, dollar int

	rs := []rune(stmt)
	for idx := 0; idx < len(rs); idx += 1 {
		switch rs[idx] {
		case '\'', '"':
			q := rs[idx]
			idx += 1
			for ; idx < len(rs); idx += 1 {
				if rs[idx] == q {
					if idx+1 < len(rs) && rs[idx+1] == q {
						idx += 1
						continue
					}
					break
				}
			}
			if idx == len(rs) {
				return 0, fmt.Errorf("sqlbridge: unterminated string")
			}
		case '?':
			question += 1
		case '$':
			n := 0
			for idx+1 < len(rs) && unicode.IsDigit(rs[idx+1]) {
				idx += 1
				n = n*10 + int(rs[idx]-'0')
			}
			if n > dollar {
				dollar = n
			}
		}
	}

	if dollar > question {
		return dollar, nil
	}
	return question, nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
