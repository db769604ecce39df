package document

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChildrenAttr holds the trimmed body of a non self-closing invocation.
const ChildrenAttr = "children"

// element scans a single invocation starting at the '<' at start and returns
// it together with the offset just past its end.
func (p *parser) element(start int) (*Invocation, int, error) {
	src := p.src
	pos := start + 1
	nameEnd := pos
	for nameEnd < len(src) && isNameByte(src[nameEnd]) {
		nameEnd++
	}
	kind := string(src[pos:nameEnd])
	pos = nameEnd

	inv := &Invocation{Kind: kind, Attributes: map[string]any{}}
	fail := func(at int, format string, args ...any) (*Invocation, int, error) {
		return nil, 0, &ParseError{Line: p.lineOf(at), Msg: fmt.Sprintf(format, args...)}
	}

	for {
		pos = skipSpace(src, pos)
		if pos >= len(src) {
			return fail(start, "unterminated <%s>", kind)
		}
		if bytes.HasPrefix(src[pos:], []byte("/>")) {
			pos += 2
			inv.Raw = string(src[start:pos])
			return inv, pos, nil
		}
		if src[pos] == '>' {
			pos++
			break
		}
		if src[pos] == '{' {
			return fail(pos, "spread attributes are not supported in <%s>", kind)
		}

		attrEnd := pos
		for attrEnd < len(src) && isAttrByte(src[attrEnd]) {
			attrEnd++
		}
		if attrEnd == pos {
			return fail(pos, "unexpected %q in <%s>", src[pos], kind)
		}
		name := string(src[pos:attrEnd])
		pos = skipSpace(src, attrEnd)
		if pos >= len(src) || src[pos] != '=' {
			inv.Attributes[name] = true
			continue
		}
		pos = skipSpace(src, pos+1)
		if pos >= len(src) {
			return fail(start, "missing value for %s in <%s>", name, kind)
		}
		switch q := src[pos]; q {
		case '"', '\'':
			end := bytes.IndexByte(src[pos+1:], q)
			if end < 0 {
				return fail(pos, "unterminated string for %s in <%s>", name, kind)
			}
			inv.Attributes[name] = string(src[pos+1 : pos+1+end])
			pos += end + 2
		case '{':
			end, ok := matchBrace(src, pos)
			if !ok {
				return fail(pos, "unbalanced braces for %s in <%s>", name, kind)
			}
			inv.Attributes[name] = decodeExpression(string(src[pos+1 : end]))
			pos = end + 1
		default:
			return fail(pos, "invalid value for %s in <%s>", name, kind)
		}
	}

	// Body: scan to the matching close tag, skipping nested invocations of
	// the same kind.
	body := pos
	closing := []byte("</" + kind)
	opening := []byte("<" + kind)
	for pos < len(src) {
		switch {
		case bytes.HasPrefix(src[pos:], closing):
			end := skipSpace(src, pos+len(closing))
			if end < len(src) && src[end] == '>' {
				if children := strings.TrimSpace(string(src[body:pos])); children != "" {
					if _, set := inv.Attributes[ChildrenAttr]; !set {
						inv.Attributes[ChildrenAttr] = children
					}
				}
				inv.Raw = string(src[start : end+1])
				return inv, end + 1, nil
			}
			pos++
		case bytes.HasPrefix(src[pos:], opening) && pos+len(opening) < len(src) && !isNameByte(src[pos+len(opening)]):
			_, next, err := p.element(pos)
			if err != nil {
				return nil, 0, err
			}
			pos = next
		default:
			pos++
		}
	}
	return fail(start, "missing </%s>", kind)
}

// matchBrace returns the index of the brace closing the one at open. Quoted
// strings and template literals are skipped.
func matchBrace(src []byte, open int) (int, bool) {
	depth := 0
	for i := open; i < len(src); i++ {
		switch c := src[i]; c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		case '"', '\'', '`':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				return 0, false
			}
			i = j
		}
	}
	return 0, false
}

// decodeExpression turns an attribute expression into a Go value. Literals
// (arrays, objects, numbers, booleans, strings) are read as YAML flow, which
// accepts JSON and single-quoted strings. Template literals keep their raw
// text. Anything else is kept as source.
func decodeExpression(expr string) any {
	s := strings.TrimSpace(expr)
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		return s[1 : len(s)-1]
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	return v
}

func skipSpace(src []byte, pos int) int {
	for pos < len(src) {
		switch src[pos] {
		case ' ', '\t', '\r', '\n':
			pos++
		default:
			return pos
		}
	}
	return pos
}

func isNameByte(c byte) bool {
	return c == '.' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isAttrByte(c byte) bool {
	return isNameByte(c) && c != '.' || c == '-' || c == ':' || c == '$'
}
