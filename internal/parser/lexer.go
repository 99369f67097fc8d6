package parser

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// TokenType identifies the lexical class of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenName
	TokenInt
	TokenFloat
	TokenString
	TokenParam
	TokenOp
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenLBrace
	TokenRBrace
	TokenComma
	TokenColon
	TokenMinus
	TokenBang
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "end of query",
	TokenName:     "name",
	TokenInt:      "integer",
	TokenFloat:    "number",
	TokenString:   "string",
	TokenParam:    "parameter",
	TokenOp:       "operator",
	TokenLParen:   "'('",
	TokenRParen:   "')'",
	TokenLBracket: "'['",
	TokenRBracket: "']'",
	TokenLBrace:   "'{'",
	TokenRBrace:   "'}'",
	TokenComma:    "','",
	TokenColon:    "':'",
	TokenMinus:    "'-'",
	TokenBang:     "'!'",
}

func (t TokenType) String() string {
	return tokenNames[t]
}

// Token is one lexeme. Value holds the decoded text: string contents
// without quotes and escapes, parameter names without '$'.
type Token struct {
	Type  TokenType
	Value string
	Pos   qerr.Pos
}

func (t Token) describe() string {
	switch t.Type {
	case TokenEOF:
		return "end of query"
	case TokenString:
		return strconv.Quote(t.Value)
	case TokenParam:
		return "$" + t.Value
	}
	return strconv.Quote(t.Value)
}

// Lexer splits MQL text into tokens.
type Lexer struct {
	input string
	pos   int // byte offset of ch
	next  int // byte offset after ch
	ch    rune
	line  int
	col   int
}

// NewLexer returns a lexer positioned at the first character.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.pos = l.next
	if l.next >= len(l.input) {
		l.ch = 0
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.next:])
	l.ch = r
	l.next += size
	l.col++
}

func (l *Lexer) peekChar() rune {
	if l.next >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.next:])
	return r
}

func (l *Lexer) position() qerr.Pos {
	return qerr.Pos{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *Lexer) skipSpaceAndComments() {
	for {
		switch l.ch {
		case ' ', '\t', '\n', '\r':
			l.readChar()
		case '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

// Tokenize lexes the whole input. The last token is always TokenEOF.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

// NextToken returns the next token or a SYNTAX_ERROR for an invalid
// character or unterminated string.
func (l *Lexer) NextToken() (Token, error) {
	l.skipSpaceAndComments()
	pos := l.position()
	single := func(t TokenType) (Token, error) {
		tok := Token{Type: t, Value: string(l.ch), Pos: pos}
		l.readChar()
		return tok, nil
	}

	switch ch := l.ch; {
	case ch == 0 && l.pos >= len(l.input):
		return Token{Type: TokenEOF, Pos: pos}, nil
	case ch == '(':
		return single(TokenLParen)
	case ch == ')':
		return single(TokenRParen)
	case ch == '[':
		return single(TokenLBracket)
	case ch == ']':
		return single(TokenRBracket)
	case ch == '{':
		return single(TokenLBrace)
	case ch == '}':
		return single(TokenRBrace)
	case ch == ',':
		return single(TokenComma)
	case ch == ':':
		return single(TokenColon)
	case ch == '-':
		return single(TokenMinus)
	case ch == '"' || ch == '\'':
		s, err := l.readString(ch)
		if err != nil {
			return Token{}, err
		}
		return Token{Type: TokenString, Value: norm.NFC.String(s), Pos: pos}, nil
	case ch == '$':
		l.readChar()
		name := l.readName()
		if name == "" {
			return Token{}, qerr.Syntax(pos, "expected parameter name after '$'")
		}
		return Token{Type: TokenParam, Value: name, Pos: pos}, nil
	case ch == '<' || ch == '>':
		op := string(ch)
		l.readChar()
		if l.ch == '=' {
			op += "="
			l.readChar()
		}
		return Token{Type: TokenOp, Value: op, Pos: pos}, nil
	case ch == '=':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
		}
		return Token{Type: TokenOp, Value: "=", Pos: pos}, nil
	case ch == '~':
		l.readChar()
		if l.ch == '*' {
			l.readChar()
			return Token{Type: TokenOp, Value: "~*", Pos: pos}, nil
		}
		return Token{Type: TokenOp, Value: "~", Pos: pos}, nil
	case ch == '!':
		switch l.peekChar() {
		case '=':
			l.readChar()
			l.readChar()
			return Token{Type: TokenOp, Value: "!=", Pos: pos}, nil
		case '~':
			l.readChar()
			l.readChar()
			if l.ch == '*' {
				l.readChar()
				return Token{Type: TokenOp, Value: "!~*", Pos: pos}, nil
			}
			return Token{Type: TokenOp, Value: "!~", Pos: pos}, nil
		}
		return single(TokenBang)
	case ch >= '0' && ch <= '9':
		return l.readNumberOrName(pos), nil
	case queryir.IsNameRune(ch, true):
		return Token{Type: TokenName, Value: norm.NFC.String(l.readName()), Pos: pos}, nil
	}
	return Token{}, qerr.Syntax(pos, "unexpected character %q", l.ch)
}

func (l *Lexer) readName() string {
	start := l.pos
	first := true
	for l.ch != 0 && queryir.IsNameRune(l.ch, first) {
		first = false
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumberOrName reads a run starting with a digit. The run is an
// integer or float if it parses as one, and a name otherwise, so
// identifiers such as 2024-run or 0190f3a2-... lex as names.
func (l *Lexer) readNumberOrName(pos qerr.Pos) Token {
	start := l.pos
	for l.ch != 0 && queryir.IsNameRune(l.ch, false) {
		prev := l.ch
		l.readChar()
		if (prev == 'e' || prev == 'E') && (l.ch == '+') && isNumericPrefix(l.input[start:l.pos-1]) {
			l.readChar()
		}
	}
	text := l.input[start:l.pos]
	if _, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Token{Type: TokenInt, Value: text, Pos: pos}
	}
	if isDecimal(text) {
		if _, err := strconv.ParseFloat(text, 64); err == nil {
			return Token{Type: TokenFloat, Value: text, Pos: pos}
		}
	}
	return Token{Type: TokenName, Value: norm.NFC.String(text), Pos: pos}
}

func isNumericPrefix(s string) bool {
	return s != "" && strings.Trim(s, "0123456789.") == ""
}

// isDecimal rejects forms ParseFloat accepts but MQL does not: hex,
// underscores, inf and nan.
func isDecimal(s string) bool {
	return strings.Trim(s, "0123456789.eE+-") == ""
}

func (l *Lexer) readString(quote rune) (string, error) {
	pos := l.position()
	var b strings.Builder
	l.readChar()
	for l.ch != quote {
		if l.ch == 0 && l.pos >= len(l.input) {
			return "", qerr.Syntax(pos, "unterminated string")
		}
		if l.ch != '\\' {
			b.WriteRune(l.ch)
			l.readChar()
			continue
		}
		l.readChar()
		switch l.ch {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'x', 'u', 'U':
			digits := map[rune]int{'x': 2, 'u': 4, 'U': 8}[l.ch]
			r, err := l.readHexEscape(pos, digits)
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
			continue
		case 0:
			return "", qerr.Syntax(pos, "unterminated string")
		case '\\', '"', '\'':
			b.WriteRune(l.ch)
		default:
			// Unknown escapes keep their backslash so regular
			// expressions like "\d+" survive.
			b.WriteByte('\\')
			b.WriteRune(l.ch)
		}
		l.readChar()
	}
	l.readChar()
	return b.String(), nil
}

// readHexEscape reads the digits of a \x, \u or \U escape.
func (l *Lexer) readHexEscape(pos qerr.Pos, digits int) (rune, error) {
	l.readChar()
	start := l.pos
	for i := 0; i < digits; i++ {
		if !isHex(l.ch) {
			return 0, qerr.Syntax(pos, "invalid hex escape in string")
		}
		l.readChar()
	}
	v, err := strconv.ParseUint(l.input[start:l.pos], 16, 32)
	if err != nil || !utf8.ValidRune(rune(v)) {
		return 0, qerr.Syntax(pos, "invalid hex escape in string")
	}
	return rune(v), nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
