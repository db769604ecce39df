package document

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	fenceOpen     = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")
	thematicBreak = regexp.MustCompile(`^ {0,3}([-*_])(?:[ \t]*[-*_]){2,}[ \t]*$`)
)

// Parse reads a recipe source.
//
// Prose is markdown. Lines starting with a capitalised tag such as
// <InstallPackages packages={["left-pad"]} /> are commands, and markdown
// thematic breaks (---) separate steps. Tags inside fenced code are prose.
func Parse(source []byte) (*Document, error) {
	p := &parser{src: source, lines: lineStarts(source)}
	if err := p.run(); err != nil {
		return nil, err
	}
	return &Document{Nodes: p.nodes}, nil
}

type parser struct {
	src   []byte
	lines []int
	nodes []Node
}

func (p *parser) run() error {
	pos := 0 // start of the pending markdown run
	off := 0
	fence := ""
	for off < len(p.src) {
		end := p.lineEnd(off)
		line := p.src[off:end]

		if fence != "" {
			if closesFence(line, fence) {
				fence = ""
			}
			off = end
			continue
		}
		if m := fenceOpen.FindSubmatch(line); m != nil {
			fence = string(m[1])
			off = end
			continue
		}

		i, ok := componentStart(line)
		if !ok {
			off = end
			continue
		}
		p.flushMarkdown(pos, off)
		next, err := p.components(off + i)
		if err != nil {
			return err
		}
		pos = next
		off = next
		if off < len(p.src) && p.lineStart(off) != off {
			off = p.lineEnd(off)
		}
	}
	p.flushMarkdown(pos, len(p.src))
	return nil
}

// components scans one or more adjacent invocations starting at start and
// returns the offset where prose resumes.
func (p *parser) components(start int) (int, error) {
	pos := start
	for {
		inv, next, err := p.element(pos)
		if err != nil {
			return 0, err
		}
		p.nodes = append(p.nodes, Node{Type: NodeCommand, Command: inv, Line: p.lineOf(pos)})

		j := next
		for j < len(p.src) && (p.src[j] == ' ' || p.src[j] == '\t' || p.src[j] == '\r') {
			j++
		}
		switch {
		case j >= len(p.src):
			return j, nil
		case p.src[j] == '\n':
			return j + 1, nil
		case p.src[j] == '<' && j+1 < len(p.src) && isUpper(p.src[j+1]):
			pos = j
		default:
			return j, nil
		}
	}
}

// flushMarkdown splits src[from:to] on top-level thematic breaks and emits
// text and separator nodes.
func (p *parser) flushMarkdown(from, to int) {
	chunk := p.src[from:to]
	if len(bytes.TrimSpace(chunk)) == 0 {
		return
	}
	doc := goldmark.DefaultParser().Parse(text.NewReader(chunk))

	cursor := 0
	breaks := 0
	for n := doc.FirstChild(); ; n = n.NextSibling() {
		if n != nil && n.Kind() == ast.KindThematicBreak {
			breaks++
			continue
		}
		if breaks > 0 {
			var found []int
			if n != nil {
				if s, ok := blockStart(n, chunk); ok {
					found = breakLinesBefore(chunk, cursor, lineStartIn(chunk, s), breaks)
				} else {
					found = breakLinesAfter(chunk, cursor, breaks)
				}
			} else {
				found = breakLinesBefore(chunk, cursor, len(chunk), breaks)
			}
			if len(found) > 0 {
				p.emitText(chunk[cursor:found[0]], from+cursor)
				for _, at := range found {
					p.nodes = append(p.nodes, Node{Type: NodeSeparator, Line: p.lineOf(from + at)})
				}
				cursor = lineEndIn(chunk, found[len(found)-1])
			}
			breaks = 0
		}
		if n == nil {
			break
		}
	}
	p.emitText(chunk[cursor:], from+cursor)
}

func (p *parser) emitText(raw []byte, at int) {
	lead := 0
	for lead < len(raw) {
		e := bytes.IndexByte(raw[lead:], '\n')
		if e < 0 || len(bytes.TrimSpace(raw[lead:lead+e])) > 0 {
			break
		}
		lead += e + 1
	}
	s := strings.TrimRight(string(raw[lead:]), " \t\r\n")
	if strings.TrimSpace(s) == "" {
		return
	}
	p.nodes = append(p.nodes, Node{Type: NodeText, Text: s, Line: p.lineOf(at + lead)})
}

// blockStart returns the chunk offset of the first source byte belonging to
// a top-level block.
func blockStart(n ast.Node, chunk []byte) (int, bool) {
	if fc, ok := n.(*ast.FencedCodeBlock); ok {
		if fc.Info != nil {
			return fc.Info.Segment.Start, true
		}
		if fc.Lines().Len() == 0 {
			return 0, false
		}
		ls := lineStartIn(chunk, fc.Lines().At(0).Start)
		if ls == 0 {
			return 0, true
		}
		return lineStartIn(chunk, ls-1), true
	}
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		return n.Lines().At(0).Start, true
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			return t.Segment.Start, true
		}
		if s, ok := blockStart(c, chunk); ok {
			return s, true
		}
	}
	return 0, false
}

// breakLinesBefore finds the last m thematic-break lines in chunk[from:limit].
func breakLinesBefore(chunk []byte, from, limit, m int) []int {
	var found []int
	for ls := lineStartIn(chunk, max(limit-1, 0)); ls >= from && len(found) < m; {
		if thematicBreak.Match(chunk[ls:trimEOL(chunk, ls, lineEndIn(chunk, ls))]) {
			found = append([]int{ls}, found...)
		}
		if ls == 0 {
			break
		}
		ls = lineStartIn(chunk, ls-1)
	}
	return found
}

// breakLinesAfter finds the first m thematic-break lines from offset from.
func breakLinesAfter(chunk []byte, from, m int) []int {
	var found []int
	for ls := from; ls < len(chunk) && len(found) < m; ls = lineEndIn(chunk, ls) {
		if thematicBreak.Match(chunk[ls:trimEOL(chunk, ls, lineEndIn(chunk, ls))]) {
			found = append(found, ls)
		}
	}
	return found
}

func componentStart(line []byte) (int, bool) {
	i := 0
	for i < len(line) && i < 3 && line[i] == ' ' {
		i++
	}
	if i+1 < len(line) && line[i] == '<' && isUpper(line[i+1]) {
		return i, true
	}
	return 0, false
}

func closesFence(line []byte, fence string) bool {
	t := bytes.TrimLeft(line, " ")
	if len(line)-len(t) > 3 {
		return false
	}
	t = bytes.TrimRight(t, " \t\r\n")
	if len(t) < len(fence) {
		return false
	}
	for _, c := range t {
		if c != fence[0] {
			return false
		}
	}
	return true
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }

func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, c := range src {
		if c == '\n' && i+1 < len(src) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineOf returns the 1-based line containing offset.
func (p *parser) lineOf(offset int) int {
	return sort.SearchInts(p.lines, offset+1)
}

func (p *parser) lineStart(offset int) int {
	return p.lines[p.lineOf(offset)-1]
}

func (p *parser) lineEnd(offset int) int {
	return lineEndIn(p.src, offset)
}

func lineStartIn(b []byte, offset int) int {
	if offset > len(b) {
		offset = len(b)
	}
	return bytes.LastIndexByte(b[:offset], '\n') + 1
}

// lineEndIn returns the offset just past the newline ending the line at offset.
func lineEndIn(b []byte, offset int) int {
	if i := bytes.IndexByte(b[offset:], '\n'); i >= 0 {
		return offset + i + 1
	}
	return len(b)
}

// trimEOL drops the line terminator of b[start:end] without moving before
// start.
func trimEOL(b []byte, start, end int) int {
	for end > start && (b[end-1] == '\n' || b[end-1] == '\r') {
		end--
	}
	return end
}
