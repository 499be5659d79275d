package driver

import (
	"strconv"
	"strings"

	"github.com/nooga/hiddenclass/pkg/errors"
)

// token is one word of a script statement.
type token struct {
	text   string
	quoted bool
	column int
}

// statement is one command with its arguments.
type statement struct {
	line   int
	tokens []token
}

// lexLine splits one script line into statements. Words are separated by
// blanks, ';' ends a statement and '#' starts a comment. Double-quoted words
// use Go string escapes.
func lexLine(line string, lineNo int, file string) ([]statement, error) {
	var (
		out []statement
		cur []token
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, statement{line: lineNo, tokens: cur})
			cur = nil
		}
	}
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			i = len(line)
		case c == ';':
			flush()
			i++
		case c == '"':
			end := i + 1
			for end < len(line) && line[end] != '"' {
				if line[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(line) {
				return nil, &errors.ScriptError{Position: errors.Position{Line: lineNo, Column: i + 1, File: file}, Msg: "unterminated string"}
			}
			text, err := strconv.Unquote(line[i : end+1])
			if err != nil {
				return nil, (&errors.ScriptError{Position: errors.Position{Line: lineNo, Column: i + 1, File: file}, Msg: "bad string literal"}).CausedBy(err)
			}
			cur = append(cur, token{text: text, quoted: true, column: i + 1})
			i = end + 1
		default:
			start := i
			for i < len(line) && !strings.ContainsRune(" \t\r;#\"", rune(line[i])) {
				i++
			}
			cur = append(cur, token{text: line[start:i], column: start + 1})
		}
	}
	flush()
	return out, nil
}
