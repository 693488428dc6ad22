package dsl

import "fmt"

// ParseError is returned by the lexer, parser, and compiler. Position is
// the 0-indexed byte offset into the source query where the error starts.
type ParseError struct {
	Message  string
	Position int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Message, e.Position)
}

func errUnexpectedChar(c rune, pos int) *ParseError {
	return &ParseError{Message: fmt.Sprintf("Unexpected character: '%c'", c), Position: pos}
}

func errUnterminatedString(pos int) *ParseError {
	return &ParseError{Message: "Unterminated string", Position: pos}
}

func errExpectedEquals(pos int) *ParseError {
	return &ParseError{Message: "Expected '==' but got '='", Position: pos}
}

func errExpectedOperator(got Token) *ParseError {
	return &ParseError{Message: fmt.Sprintf("Expected operator but got '%s'", got), Position: got.Start}
}

func errExpectedValue(got Token) *ParseError {
	return &ParseError{Message: fmt.Sprintf("Expected value but got '%s'", got), Position: got.Start}
}

func errExpectedToken(want string, got Token) *ParseError {
	return &ParseError{Message: fmt.Sprintf("Expected '%s' but got '%s'", want, got), Position: got.Start}
}

func errInvalidRegex(cause error, pos int) *ParseError {
	return &ParseError{Message: fmt.Sprintf("Invalid regex: %s", cause), Position: pos}
}

func errInvalidNpub(literal string, pos int) *ParseError {
	return &ParseError{Message: fmt.Sprintf("Invalid npub: %s", literal), Position: pos}
}
