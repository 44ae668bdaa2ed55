// Package fixes applies audit issues to Python source. Edits target stable
// line identities taken from the original text, so a fix that inserts or
// removes lines never shifts another fix's target.
package fixes

import (
	"strings"
)

// Line is one line of source. ID is the 1-based line number in the text the
// Document was built from; inserted lines have ID 0.
type Line struct {
	ID   int
	Text string
}

// Document is an editable list of lines with stable identities.
type Document struct {
	lines           []Line
	trailingNewline bool
}

// NewDocument splits code into identified lines.
func NewDocument(code string) *Document {
	d := &Document{trailingNewline: strings.HasSuffix(code, "\n")}
	body := strings.TrimSuffix(code, "\n")
	if body == "" && !d.trailingNewline {
		return d
	}
	for i, text := range strings.Split(body, "\n") {
		d.lines = append(d.lines, Line{ID: i + 1, Text: text})
	}
	return d
}

// Len returns the current number of lines.
func (d *Document) Len() int {
	return len(d.lines)
}

func (d *Document) index(id int) int {
	if id <= 0 {
		return -1
	}
	// IDs are ascending among surviving original lines, so binary search
	// would work, but documents are small.
	for i, l := range d.lines {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// Text returns the current text of the line with the given ID.
func (d *Document) Text(id int) (string, bool) {
	i := d.index(id)
	if i < 0 {
		return "", false
	}
	return d.lines[i].Text, true
}

// Replace sets the text of line id. It reports false if the line is gone.
func (d *Document) Replace(id int, text string) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.lines[i].Text = text
	return true
}

// Delete removes line id.
func (d *Document) Delete(id int) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.lines = append(d.lines[:i], d.lines[i+1:]...)
	return true
}

// InsertBefore adds an unidentified line above line id.
func (d *Document) InsertBefore(id int, text string) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.insertAt(i, text)
	return true
}

// InsertAfter adds an unidentified line below line id.
func (d *Document) InsertAfter(id int, text string) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.insertAt(i+1, text)
	return true
}

func (d *Document) insertAt(i int, text string) {
	d.lines = append(d.lines, Line{})
	copy(d.lines[i+1:], d.lines[i:])
	d.lines[i] = Line{Text: text}
}

// EnsureImport adds "import <module>" near the top unless an import of it
// already exists. The line goes after any shebang, encoding comment and
// __future__ imports.
func (d *Document) EnsureImport(module string) {
	stmt := "import " + module
	for _, l := range d.lines {
		t := strings.TrimSpace(l.Text)
		if t == stmt || strings.HasPrefix(t, stmt+" ") || strings.HasPrefix(t, stmt+",") {
			return
		}
	}
	pos := 0
	for pos < len(d.lines) {
		t := strings.TrimSpace(d.lines[pos].Text)
		if strings.HasPrefix(t, "#!") || strings.HasPrefix(t, "# -*-") || strings.HasPrefix(t, "from __future__") {
			pos++
			continue
		}
		break
	}
	d.insertAt(pos, stmt)
}

// Context returns up to radius lines on either side of id, for prompts.
func (d *Document) Context(id, radius int) string {
	i := d.index(id)
	if i < 0 {
		return ""
	}
	start := max(0, i-radius)
	end := min(len(d.lines), i+radius+1)
	texts := make([]string, 0, end-start)
	for _, l := range d.lines[start:end] {
		texts = append(texts, l.Text)
	}
	return strings.Join(texts, "\n")
}

// String renders the current source.
func (d *Document) String() string {
	texts := make([]string, len(d.lines))
	for i, l := range d.lines {
		texts[i] = l.Text
	}
	out := strings.Join(texts, "\n")
	if d.trailingNewline && len(d.lines) > 0 {
		out += "\n"
	}
	return out
}

// indentOf returns the leading whitespace of s.
func indentOf(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}
