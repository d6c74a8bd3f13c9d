// Package export writes the finalized segments of one source file: sample
// clips, marker files for DAWs, a timestamps table and the summary document
// that marks the output as complete.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dhowden/tag"

	"github.com/maauso/samplepacker/internal/segment"
)

// DefaultTemplate names sample clips.
const DefaultTemplate = "{basename}_sample_{id:04}_{start:.3f}s-{end:.3f}s_detector-{detector}"

const maxNameLength = 200

// ErrInvalidTemplate is returned for unknown tokens or malformed formats.
var ErrInvalidTemplate = errors.New("invalid filename template")

var tokenPattern = regexp.MustCompile(`\{([a-z]+)(?::([^{}]*))?\}`)

var (
	intFormat   = regexp.MustCompile(`^0?[1-9]?$`)
	floatFormat = regexp.MustCompile(`^\.[0-9]f$`)
)

// Tokens are the values a template can reference.
type Tokens struct {
	Basename string
	Title    string
	ID       int
	Start    float64
	End      float64
	Detector string
}

// TokensFor builds the tokens of the id-th segment of a source.
func TokensFor(basename, title string, id int, seg segment.Segment) Tokens {
	if title == "" {
		title = basename
	}
	return Tokens{
		Basename: basename,
		Title:    title,
		ID:       id,
		Start:    seg.Start,
		End:      seg.End,
		Detector: detectorLabel(seg),
	}
}

// detectorLabel prefers the primary detector and otherwise collapses the
// constituent labels.
func detectorLabel(seg segment.Segment) string {
	if p := seg.StringAttr(segment.AttrPrimaryDetector); p != "" {
		return p
	}
	if seg.Detector == "" {
		return "unknown"
	}
	return seg.Detector
}

type part struct {
	literal string
	token   string
	format  string
}

// Template renders sample file names from tokens.
type Template struct {
	raw   string
	parts []part
}

// ParseTemplate compiles a template such as DefaultTemplate. Supported
// tokens are {basename} {title} {id} {start} {end} {duration} and
// {detector}. {id} accepts a zero-padded width ({id:04}); the time tokens
// accept a precision ({start:.3f}).
func ParseTemplate(s string) (*Template, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTemplate)
	}
	t := &Template{raw: s}
	last := 0
	for _, m := range tokenPattern.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			t.parts = append(t.parts, part{literal: s[last:m[0]]})
		}
		name := s[m[2]:m[3]]
		format := ""
		if m[4] >= 0 {
			format = s[m[4]:m[5]]
		}
		if err := checkToken(name, format); err != nil {
			return nil, err
		}
		t.parts = append(t.parts, part{token: name, format: format})
		last = m[1]
	}
	if last < len(s) {
		t.parts = append(t.parts, part{literal: s[last:]})
	}
	for _, p := range t.parts {
		if strings.ContainsAny(p.literal, "{}") {
			return nil, fmt.Errorf("%w: unbalanced brace in %q", ErrInvalidTemplate, s)
		}
	}
	return t, nil
}

func checkToken(name, format string) error {
	switch name {
	case "basename", "title", "detector":
		if format != "" {
			return fmt.Errorf("%w: {%s} takes no format", ErrInvalidTemplate, name)
		}
	case "id":
		if !intFormat.MatchString(format) {
			return fmt.Errorf("%w: {id:%s}", ErrInvalidTemplate, format)
		}
	case "start", "end", "duration":
		if format != "" && !floatFormat.MatchString(format) {
			return fmt.Errorf("%w: {%s:%s}", ErrInvalidTemplate, name, format)
		}
	default:
		return fmt.Errorf("%w: unknown token {%s}", ErrInvalidTemplate, name)
	}
	return nil
}

// String returns the template source.
func (t *Template) String() string {
	return t.raw
}

// Render produces a sanitized file name without extension.
func (t *Template) Render(tok Tokens) string {
	var b strings.Builder
	for _, p := range t.parts {
		switch p.token {
		case "":
			b.WriteString(p.literal)
		case "basename":
			b.WriteString(tok.Basename)
		case "title":
			b.WriteString(tok.Title)
		case "detector":
			b.WriteString(tok.Detector)
		case "id":
			b.WriteString(fmt.Sprintf("%"+p.format+"d", tok.ID))
		case "start":
			b.WriteString(formatSeconds(tok.Start, p.format))
		case "end":
			b.WriteString(formatSeconds(tok.End, p.format))
		case "duration":
			b.WriteString(formatSeconds(tok.End-tok.Start, p.format))
		}
	}
	return Sanitize(b.String())
}

func formatSeconds(v float64, format string) string {
	if format == "" {
		return strconv.FormatFloat(v, 'f', 3, 64)
	}
	prec := int(format[1] - '0')
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// Sanitize makes name safe as a file name on common filesystems: path
// separators, reserved and control characters become underscores, trailing
// dots and spaces are trimmed and the result is at most 200 bytes.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxNameLength {
		out = out[:maxNameLength]
		for !utf8.ValidString(out) {
			out = out[:len(out)-1]
		}
	}
	out = strings.TrimRight(out, " .")
	if out == "" {
		return "untitled"
	}
	return out
}

// Basename returns the source file name without directory and extension.
func Basename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ReadTitle returns the title tag of an audio file, or its basename when the
// file carries no readable tag.
func ReadTitle(path string) string {
	f, err := os.Open(path) // #nosec G304 - path is a discovered input file
	if err != nil {
		return Basename(path)
	}
	defer func() { _ = f.Close() }()

	m, err := tag.ReadFrom(f)
	if err != nil || strings.TrimSpace(m.Title()) == "" {
		return Basename(path)
	}
	return strings.TrimSpace(m.Title())
}
