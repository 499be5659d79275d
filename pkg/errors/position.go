package errors

// Position points at a line of a shapes script.
// Line and Column are 1-based; Column is 0 when only the line is known.
type Position struct {
	Line   int
	Column int
	File   string
}
