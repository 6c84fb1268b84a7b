package sqlgen

import (
	"fmt"
	"strings"
)

// UnloadStatement is the clause set recovered from UNLOAD text produced by
// BuildUnloadSQL.
type UnloadStatement struct {
	Query       string
	Destination string
	Role        string
	Options     ExportOptions
}

type token struct {
	text   string
	quoted bool
}

// ParseUnload reads back the clauses of an UNLOAD statement in the exact
// shape BuildUnloadSQL emits. It is not a general SQL parser.
func ParseUnload(sqlText string) (UnloadStatement, error) {
	tokens, err := tokenize(sqlText)
	if err != nil {
		return UnloadStatement{}, err
	}
	p := &tokenCursor{tokens: tokens}

	var stmt UnloadStatement
	if err := p.keyword("UNLOAD"); err != nil {
		return UnloadStatement{}, err
	}
	if err := p.keyword("("); err != nil {
		return UnloadStatement{}, err
	}
	if stmt.Query, err = p.literal(); err != nil {
		return UnloadStatement{}, err
	}
	if err := p.keyword(")"); err != nil {
		return UnloadStatement{}, err
	}
	if err := p.keyword("TO"); err != nil {
		return UnloadStatement{}, err
	}
	if stmt.Destination, err = p.literal(); err != nil {
		return UnloadStatement{}, err
	}
	if err := p.keyword("IAM_ROLE"); err != nil {
		return UnloadStatement{}, err
	}
	if stmt.Role, err = p.literal(); err != nil {
		return UnloadStatement{}, err
	}
	if err := p.keyword("FORMAT"); err != nil {
		return UnloadStatement{}, err
	}
	if err := p.keyword("AS"); err != nil {
		return UnloadStatement{}, err
	}
	word, err := p.word()
	if err != nil {
		return UnloadStatement{}, err
	}
	if stmt.Options.Format, err = ParseFormat(word); err != nil {
		return UnloadStatement{}, err
	}

	stmt.Options.Parallel = true
	for !p.done() {
		word, err := p.word()
		if err != nil {
			return UnloadStatement{}, err
		}
		switch word {
		case "HEADER":
			stmt.Options.Header = true
		case "DELIMITER":
			if stmt.Options.Delimiter, err = p.literal(); err != nil {
				return UnloadStatement{}, err
			}
		case "ALLOWOVERWRITE":
			stmt.Options.AllowOverwrite = true
		case "PARALLEL":
			value, err := p.word()
			if err != nil {
				return UnloadStatement{}, err
			}
			stmt.Options.Parallel = !strings.EqualFold(value, "FALSE") && !strings.EqualFold(value, "OFF")
		case "PARTITION":
			if err := p.keyword("BY"); err != nil {
				return UnloadStatement{}, err
			}
			if stmt.Options.PartitionColumn, err = p.literal(); err != nil {
				return UnloadStatement{}, err
			}
		case "GZIP":
			stmt.Options.GZIP = true
		case "EXTENSION":
			ext, err := p.literal()
			if err != nil {
				return UnloadStatement{}, err
			}
			if ext != stmt.Options.Format.Extension() {
				return UnloadStatement{}, fmt.Errorf("extension %q does not match format %s", ext, stmt.Options.Format)
			}
		default:
			return UnloadStatement{}, fmt.Errorf("unexpected clause %q", word)
		}
	}
	return stmt, nil
}

func tokenize(text string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(text); {
		ch := text[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(' || ch == ')':
			tokens = append(tokens, token{text: string(ch)})
			i++
		case ch == '\'':
			var b strings.Builder
			i++
			closed := false
			for i < len(text) {
				if text[i] == '\'' {
					// A doubled quote stays doubled: literals round-trip verbatim.
					if i+1 < len(text) && text[i+1] == '\'' {
						b.WriteString("''")
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				b.WriteByte(text[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated literal")
			}
			tokens = append(tokens, token{text: b.String(), quoted: true})
		default:
			start := i
			for i < len(text) && !strings.ContainsRune(" \t\n\r()'", rune(text[i])) {
				i++
			}
			tokens = append(tokens, token{text: text[start:i]})
		}
	}
	return tokens, nil
}

type tokenCursor struct {
	tokens []token
	pos    int
}

func (c *tokenCursor) done() bool {
	return c.pos >= len(c.tokens)
}

func (c *tokenCursor) next() (token, error) {
	if c.done() {
		return token{}, fmt.Errorf("unexpected end of statement")
	}
	tok := c.tokens[c.pos]
	c.pos++
	return tok, nil
}

func (c *tokenCursor) keyword(want string) error {
	tok, err := c.next()
	if err != nil {
		return err
	}
	if tok.quoted || tok.text != want {
		return fmt.Errorf("expected %s, got %q", want, tok.text)
	}
	return nil
}

func (c *tokenCursor) word() (string, error) {
	tok, err := c.next()
	if err != nil {
		return "", err
	}
	if tok.quoted {
		return "", fmt.Errorf("unexpected literal '%s'", tok.text)
	}
	return tok.text, nil
}

func (c *tokenCursor) literal() (string, error) {
	tok, err := c.next()
	if err != nil {
		return "", err
	}
	if !tok.quoted {
		return "", fmt.Errorf("expected quoted literal, got %q", tok.text)
	}
	return tok.text, nil
}
