package sqlbridge

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// textReader reads text format bulk load data rune by rune, tracking the
// position for error messages. A backslash period alone at the start of a
// line is the end of data marker.
type textReader struct {
	rr         io.RuneReader
	eof        bool
	done       bool
	unread     bool
	unreadRune rune
	filename   string
	line       int
	column     int
}

func newTextReader(filename string, rr io.RuneReader, line int) *textReader {
	return &textReader{
		rr:       rr,
		filename: filename,
		line:     line,
	}
}

func (rdr *textReader) position() string {
	return fmt.Sprintf("%s:%d:%d", rdr.filename, rdr.line, rdr.column)
}

func (rdr *textReader) readRune() (rune, error) {
	if rdr.eof {
		return 0, io.EOF
	}

	var r rune
	if rdr.unread {
		rdr.unread = false
		r = rdr.unreadRune
	} else {
		var err error
		r, _, err = rdr.rr.ReadRune()
		if err != nil {
			return 0, err
		}
	}

	if r == '\n' {
		rdr.line += 1
		rdr.column = 0
	} else {
		rdr.column += 1
	}

	if r == '\\' {
		var err error
		rdr.unreadRune, _, err = rdr.rr.ReadRune()
		if err == io.EOF {
			rdr.eof = true
		} else if err != nil {
			return 0, err
		}
		if rdr.unreadRune == '.' && rdr.column == 1 {
			rdr.eof = true
			rdr.done = true
			return 0, io.EOF
		} else {
			rdr.unread = true
		}
	}

	return r, nil
}

// copyFromText parses rows of numCols delimited columns and hands each to
// fn; \N alone in a column is null. The vals slice is reused between rows.
func copyFromText(rdr *textReader, numCols int, delim rune,
	fn func(vals []interface{}) error) error {

	vals := make([]interface{}, numCols)
	for {
		for cdx := 0; cdx < numCols; cdx += 1 {
			s, null, err := readTextColumn(rdr, delim, cdx == numCols-1)
			if err == io.EOF && cdx == 0 {
				return nil
			} else if err != nil {
				return fmt.Errorf("sqlbridge: %s: %s", rdr.position(), err)
			}
			if null {
				if s != "" {
					return fmt.Errorf(`sqlbridge: %s: null (\N) must be alone in column`,
						rdr.position())
				}
				vals[cdx] = nil
			} else {
				vals[cdx] = s
			}
		}

		err := fn(vals)
		if err != nil {
			return fmt.Errorf("sqlbridge: %s: %s", rdr.position(), err)
		}
	}
}

func readTextColumn(rdr *textReader, delim rune, last bool) (string, bool, error) {
	var buf strings.Builder
	var null bool

	for {
		r, err := rdr.readRune()
		if err != nil {
			return "", false, err
		}
		if r == delim {
			if last {
				return "", false, errors.New("unexpected delimiter for last column")
			}
			break
		} else if r == '\n' {
			if !last {
				return "", false, errors.New("unexpected end of line")
			}
			break
		} else if r == '\\' {
			r, err = rdr.readRune()
			if err != nil {
				return "", false, err
			}
			if r == 'N' {
				null = true
			} else {
				switch r {
				case 'b':
					r = 8
				case 'f':
					r = 12
				case 'n':
					r = 10
				case 'r':
					r = 13
				case 't':
					r = 9
				case 'v':
					r = 11
				}
				buf.WriteRune(r)
			}
		} else {
			buf.WriteRune(r)
		}
	}

	return buf.String(), null, nil
}
