package query

// Lexer walks a statement byte by byte. Values in the grammar are free
// text, so the parser drives the lexer directly instead of consuming a
// token stream.
type Lexer struct {
	text         string
	position     int
	readPosition int
	ch           byte
}

func NewLexer(text string) *Lexer {
	lexer := &Lexer{text: text}
	lexer.readChar()
	return lexer
}

func (lexer *Lexer) readChar() {
	if lexer.readPosition >= len(lexer.text) {
		lexer.ch = 0
	} else {
		lexer.ch = lexer.text[lexer.readPosition]
	}
	lexer.position = lexer.readPosition
	lexer.readPosition++
}

// seek moves the lexer to an absolute offset.
func (lexer *Lexer) seek(position int) {
	lexer.readPosition = position
	lexer.readChar()
}

func (lexer *Lexer) atEnd() bool {
	return lexer.position >= len(lexer.text)
}

func (lexer *Lexer) rest() string {
	if lexer.atEnd() {
		return ""
	}
	return lexer.text[lexer.position:]
}

func (lexer *Lexer) skipSpaces() int {
	count := 0
	for lexer.ch == ' ' || lexer.ch == '\t' {
		lexer.readChar()
		count++
	}
	return count
}

func (lexer *Lexer) expect(ch byte) bool {
	if lexer.atEnd() || lexer.ch != ch {
		return false
	}
	lexer.readChar()
	return true
}

func (lexer *Lexer) readIdentifier() string {
	position := lexer.position
	for !lexer.atEnd() && isIdentifierByte(lexer.ch) {
		lexer.readChar()
	}
	return lexer.text[position:lexer.position]
}

// readQuotedIdentifier reads "NAME".
func (lexer *Lexer) readQuotedIdentifier() (string, bool) {
	start := lexer.position
	if !lexer.expect('"') {
		return "", false
	}
	name := lexer.readIdentifier()
	if name == "" || !lexer.expect('"') {
		lexer.seek(start)
		return "", false
	}
	return name, true
}

// readOperator reads the longest operator at the current position.
func (lexer *Lexer) readOperator() (Operator, bool) {
	rest := lexer.rest()
	if len(rest) >= 2 {
		if op, ok := operators[rest[:2]]; ok {
			lexer.seek(lexer.position + 2)
			return op, true
		}
	}
	if len(rest) >= 1 {
		if op, ok := operators[rest[:1]]; ok {
			lexer.seek(lexer.position + 1)
			return op, true
		}
	}
	return 0, false
}

func isIdentifierByte(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_' || isDigit(ch) || ch >= 0x80
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

// toUpper converts a string to uppercase without allocating for ASCII strings
func toUpper(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			b := make([]byte, len(s))
			for j := 0; j < len(s); j++ {
				if s[j] >= 'a' && s[j] <= 'z' {
					b[j] = s[j] - 32
				} else {
					b[j] = s[j]
				}
			}
			return string(b)
		}
	}
	return s
}
