package query

import (
	"regexp"
	"strings"
)

// StreamCitationParser splits streamed answer text into plain content and
// [[ticket_id]] citations. Citations may be split across chunks.
type StreamCitationParser struct {
	buffer string
}

func (p *StreamCitationParser) Consume(
	chunk string,
	onContent func(string) error,
	onCitation func(string) error,
) error {
	p.buffer += chunk

	emitContent := func(content string) error {
		if content == "" {
			return nil
		}
		return onContent(content)
	}

	for {
		start := strings.Index(p.buffer, "[[")
		if start == -1 {
			if strings.HasSuffix(p.buffer, "[") {
				if err := emitContent(p.buffer[:len(p.buffer)-1]); err != nil {
					return err
				}
				p.buffer = "["
				return nil
			}

			if err := emitContent(p.buffer); err != nil {
				return err
			}
			p.buffer = ""
			return nil
		}

		if start > 0 {
			if err := emitContent(p.buffer[:start]); err != nil {
				return err
			}
			p.buffer = p.buffer[start:]
		}

		end := strings.Index(p.buffer[2:], "]]")
		if end == -1 {
			return nil
		}
		end += 2

		citationID := p.buffer[2:end]
		if isCitationID(citationID) {
			if err := onCitation(citationID); err != nil {
				return err
			}
			p.buffer = p.buffer[end+2:]
			continue
		}

		if err := emitContent(p.buffer[:1]); err != nil {
			return err
		}
		p.buffer = p.buffer[1:]
	}
}

func (p *StreamCitationParser) Flush(onContent func(string) error) error {
	if p.buffer == "" {
		return nil
	}

	if err := onContent(p.buffer); err != nil {
		return err
	}

	p.buffer = ""
	return nil
}

// ExtractCitations returns the distinct ticket ids cited in text, in order
// of first appearance. Ids not in allowed are dropped when allowed is
// non-nil.
func ExtractCitations(text string, allowed map[string]struct{}) []string {
	var p StreamCitationParser
	seen := make(map[string]struct{})
	out := make([]string, 0)
	cite := func(id string) error {
		if _, dup := seen[id]; dup {
			return nil
		}
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				return nil
			}
		}
		seen[id] = struct{}{}
		out = append(out, id)
		return nil
	}
	noop := func(string) error { return nil }
	_ = p.Consume(text, noop, cite)
	return out
}

var (
	reBoldCitation = regexp.MustCompile(`\*\*\s*(\[\[?[^][]+\]\]?)\s*\*\*`)
	reCitation     = regexp.MustCompile(`\[\[([^][]+)\]\]`)
)

// NormalizeCitations rewrites the citation variants models produce into
// the canonical [[id]] form: bold markers are stripped, single brackets
// around an id are doubled and repeats of the same citation separated only
// by spaces collapse into one. Markdown links are left alone.
func NormalizeCitations(s string) string {
	s = reBoldCitation.ReplaceAllString(s, "$1")
	s = doubleSingleBrackets(s)
	return collapseRepeatedCitations(s)
}

func doubleSingleBrackets(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '[' {
			end := strings.Index(s[i:], "]]")
			if end == -1 {
				b.WriteString(s[i:])
				return b.String()
			}
			b.WriteString(s[i : i+end+2])
			i += end + 1
			continue
		}
		end := strings.IndexByte(s[i+1:], ']')
		if end == -1 {
			b.WriteByte('[')
			continue
		}
		id := s[i+1 : i+1+end]
		end += i + 1
		link := end+1 < len(s) && s[end+1] == '('
		if link || !isCitationID(id) {
			b.WriteByte('[')
			continue
		}
		b.WriteString("[[" + id + "]]")
		i = end
	}
	return b.String()
}

func collapseRepeatedCitations(s string) string {
	matches := reCitation.FindAllStringSubmatchIndex(s, -1)
	if len(matches) < 2 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	cursor := 0
	prevID, prevEnd := "", -1
	for _, m := range matches {
		id := s[m[2]:m[3]]
		if id == prevID && strings.TrimSpace(s[prevEnd:m[0]]) == "" {
			cursor = m[1]
			prevEnd = m[1]
			continue
		}
		b.WriteString(s[cursor:m[1]])
		cursor = m[1]
		prevID, prevEnd = id, m[1]
	}
	b.WriteString(s[cursor:])
	return b.String()
}

// ticket ids from the source datasets are numeric or short codes like
// "T-1042"; anything with whitespace is treated as text
func isCitationID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return false
		}
	}

	return true
}
