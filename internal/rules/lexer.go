// internal/rules/lexer.go
package rules

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/solatis/abusefilter/internal/types"
)

/*
 * Tokenizer for the rule language.
 *
 * Produces a flat token slice terminated by TokEOF. Identifiers and keywords
 * are case-insensitive and normalised to lower case. Whitespace and block
 * comments are skipped.
 *
 * Operator recognition is longest-match: "===" before "==" before "=~",
 * "**" before "*", "!==" before "!=" before "!".
 *
 * String literals accept single or double quotes with escapes
 * \\ \" \' \n \r \t \xHH \uHHHH. Unknown escapes keep the backslash.
 * Numbers are decimal (with optional fraction and exponent) or 0x hex.
 */

// TokenKind classifies a token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokKeyword
	TokString
	TokNumber
	TokOperator
	TokLParen
	TokRParen
	TokLBracket
	TokRBracket
	TokComma
)

// Token is one lexical unit. Pos is the byte offset in the source.
type Token struct {
	Kind TokenKind
	Text string
	Num  float64
	Pos  int
}

var keywords = map[string]bool{
	"true":     true,
	"false":    true,
	"null":     true,
	"in":       true,
	"contains": true,
	"like":     true,
	"matches":  true,
	"rlike":    true,
	"irlike":   true,
	"regex":    true,
}

// operators ordered so that longer spellings win.
var operators = []string{
	"===", "!==",
	"**", "==", "!=", "<=", ">=", "=~",
	"&", "|", "^", "!", "<", ">", "+", "-", "*", "/", "%",
}

// Lex splits source into tokens.
func Lex(src string) ([]Token, error) {
	if len(src) > types.MaxSourceLength {
		return nil, &types.SyntaxError{Position: types.MaxSourceLength, Message: types.ErrSourceTooLong.Error()}
	}
	lx := &lexer{src: src}
	var toks []Token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			return toks, nil
		}
	}
}

type lexer struct {
	src string
	pos int
}

func (lx *lexer) errorf(pos int, msg string) error {
	return &types.SyntaxError{Position: pos, Message: msg}
}

func (lx *lexer) skipSpaceAndComments() error {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			lx.pos++
		case strings.HasPrefix(lx.src[lx.pos:], "/*"):
			end := strings.Index(lx.src[lx.pos+2:], "*/")
			if end < 0 {
				return lx.errorf(lx.pos, "unclosed comment")
			}
			lx.pos += 2 + end + 2
		default:
			return nil
		}
	}
	return nil
}

func (lx *lexer) next() (Token, error) {
	if err := lx.skipSpaceAndComments(); err != nil {
		return Token{}, err
	}
	start := lx.pos
	if lx.pos >= len(lx.src) {
		return Token{Kind: TokEOF, Pos: start}, nil
	}
	c := lx.src[lx.pos]

	switch c {
	case '(':
		lx.pos++
		return Token{Kind: TokLParen, Text: "(", Pos: start}, nil
	case ')':
		lx.pos++
		return Token{Kind: TokRParen, Text: ")", Pos: start}, nil
	case '[':
		lx.pos++
		return Token{Kind: TokLBracket, Text: "[", Pos: start}, nil
	case ']':
		lx.pos++
		return Token{Kind: TokRBracket, Text: "]", Pos: start}, nil
	case ',':
		lx.pos++
		return Token{Kind: TokComma, Text: ",", Pos: start}, nil
	case '"', '\'':
		return lx.lexString(c)
	}

	if isDigit(c) || (c == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1])) {
		return lx.lexNumber()
	}
	if isIdentStart(c) {
		for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
			lx.pos++
		}
		word := strings.ToLower(lx.src[start:lx.pos])
		if keywords[word] {
			return Token{Kind: TokKeyword, Text: word, Pos: start}, nil
		}
		return Token{Kind: TokIdent, Text: word, Pos: start}, nil
	}
	for _, op := range operators {
		if strings.HasPrefix(lx.src[lx.pos:], op) {
			lx.pos += len(op)
			return Token{Kind: TokOperator, Text: op, Pos: start}, nil
		}
	}
	r, _ := utf8.DecodeRuneInString(lx.src[lx.pos:])
	return Token{}, lx.errorf(start, "unrecognised character "+strconv.QuoteRune(r))
}

func (lx *lexer) lexNumber() (Token, error) {
	start := lx.pos
	src := lx.src
	if strings.HasPrefix(src[lx.pos:], "0x") || strings.HasPrefix(src[lx.pos:], "0X") {
		lx.pos += 2
		digits := lx.pos
		for lx.pos < len(src) && isHexDigit(src[lx.pos]) {
			lx.pos++
		}
		if lx.pos == digits {
			return Token{}, lx.errorf(start, "malformed hexadecimal number")
		}
		n, err := strconv.ParseUint(src[digits:lx.pos], 16, 64)
		if err != nil {
			return Token{}, lx.errorf(start, "malformed hexadecimal number")
		}
		return Token{Kind: TokNumber, Text: src[start:lx.pos], Num: float64(n), Pos: start}, nil
	}
	for lx.pos < len(src) && isDigit(src[lx.pos]) {
		lx.pos++
	}
	if lx.pos < len(src) && src[lx.pos] == '.' {
		lx.pos++
		for lx.pos < len(src) && isDigit(src[lx.pos]) {
			lx.pos++
		}
	}
	if lx.pos < len(src) && (src[lx.pos] == 'e' || src[lx.pos] == 'E') {
		save := lx.pos
		lx.pos++
		if lx.pos < len(src) && (src[lx.pos] == '+' || src[lx.pos] == '-') {
			lx.pos++
		}
		if lx.pos < len(src) && isDigit(src[lx.pos]) {
			for lx.pos < len(src) && isDigit(src[lx.pos]) {
				lx.pos++
			}
		} else {
			lx.pos = save
		}
	}
	if lx.pos < len(src) && isIdentStart(src[lx.pos]) {
		return Token{}, lx.errorf(start, "malformed number")
	}
	n, err := strconv.ParseFloat(src[start:lx.pos], 64)
	if err != nil {
		return Token{}, lx.errorf(start, "malformed number")
	}
	return Token{Kind: TokNumber, Text: src[start:lx.pos], Num: n, Pos: start}, nil
}

func (lx *lexer) lexString(quote byte) (Token, error) {
	start := lx.pos
	lx.pos++
	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c == quote {
			lx.pos++
			return Token{Kind: TokString, Text: sb.String(), Pos: start}, nil
		}
		if c != '\\' {
			sb.WriteByte(c)
			lx.pos++
			continue
		}
		if lx.pos+1 >= len(lx.src) {
			break
		}
		esc := lx.src[lx.pos+1]
		lx.pos += 2
		switch esc {
		case '\\', '"', '\'':
			sb.WriteByte(esc)
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'x':
			if lx.pos+2 <= len(lx.src) && isHexDigit(lx.src[lx.pos]) && isHexDigit(lx.src[lx.pos+1]) {
				n, _ := strconv.ParseUint(lx.src[lx.pos:lx.pos+2], 16, 8)
				sb.WriteRune(rune(n))
				lx.pos += 2
			} else {
				sb.WriteString(`\x`)
			}
		case 'u':
			if lx.pos+4 <= len(lx.src) && allHex(lx.src[lx.pos:lx.pos+4]) {
				n, _ := strconv.ParseUint(lx.src[lx.pos:lx.pos+4], 16, 32)
				sb.WriteRune(rune(n))
				lx.pos += 4
			} else {
				sb.WriteString(`\u`)
			}
		default:
			sb.WriteByte('\\')
			sb.WriteByte(esc)
		}
	}
	return Token{}, lx.errorf(start, "unclosed string literal")
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func allHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
