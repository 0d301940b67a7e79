// Package htmlblock segments raw upstream markup into repeating blocks by
// marker scanning and extracts attributes and text from them. It does not
// build a DOM tree for the whole page; irregular nesting is tolerated.
package htmlblock

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Splitter cuts a document into blocks.
type Splitter interface {
	Split(doc string) []string
}

// MarkerSplitter returns the substrings between consecutive marker matches.
// Each block starts at its marker; the last block runs to the end of doc.
type MarkerSplitter struct {
	Marker *regexp.Regexp
}

func (m MarkerSplitter) Split(doc string) []string {
	locs := m.Marker.FindAllStringIndex(doc, -1)
	blocks := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(doc)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		blocks = append(blocks, doc[loc[0]:end])
	}
	return blocks
}

// Split is shorthand for MarkerSplitter{marker}.Split(doc).
func Split(doc string, marker *regexp.Regexp) []string {
	return MarkerSplitter{Marker: marker}.Split(doc)
}

// Region returns the first match of re in doc, or "" when absent.
func Region(doc string, re *regexp.Regexp) string {
	return re.FindString(doc)
}

var numericEntityRe = regexp.MustCompile(`&#(\d+);`)

// DecodeEntities decodes &amp; &lt; &gt; and decimal character references.
func DecodeEntities(s string) string {
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	return numericEntityRe.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.Atoi(m[2 : len(m)-1])
		if err != nil || n <= 0 || n > 0x10FFFF {
			return m
		}
		return string(rune(n))
	})
}

var patterns sync.Map // pattern -> *regexp.Regexp

func cached(pattern string) *regexp.Regexp {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(pattern)
	patterns.Store(pattern, re)
	return re
}

// Attr reads a quoted attribute value from an opening tag.
func Attr(tag, name string) (string, bool) {
	re := cached(`(?i)(?:^|[\s<])` + regexp.QuoteMeta(name) + `\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	m := re.FindStringSubmatch(tag)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// OpeningTag returns the first opening tag in block.
func OpeningTag(block string) string {
	start := strings.IndexByte(block, '<')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(block[start:], '>')
	if end < 0 {
		return block[start:]
	}
	return block[start : start+end+1]
}

// HasClass reports whether the tag's class attribute contains class.
func HasClass(tag, class string) bool {
	v, ok := Attr(tag, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}

func classElementRe(tag, class string) *regexp.Regexp {
	return cached(fmt.Sprintf(`(?is)<%[1]s\b[^>]*class=["'][^"']*\b%[2]s\b[^"']*["'][^>]*>(.*?)</%[1]s>`,
		regexp.QuoteMeta(tag), regexp.QuoteMeta(class)))
}

// ElementsByClass returns the inner markup of each <tag class="... class ...">
// element. Matching is non-greedy and not nesting aware.
func ElementsByClass(doc, tag, class string) []string {
	ms := classElementRe(tag, class).FindAllStringSubmatch(doc, -1)
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m[1])
	}
	return out
}

// FirstByClass returns the inner markup of the first matching element.
func FirstByClass(doc, tag, class string) (string, bool) {
	m := classElementRe(tag, class).FindStringSubmatch(doc)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// TextByClass is FirstByClass followed by Text.
func TextByClass(doc, tag, class string) string {
	inner, ok := FirstByClass(doc, tag, class)
	if !ok {
		return ""
	}
	return Text(inner)
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// StripTags removes markup without decoding entities.
func StripTags(s string) string {
	return tagRe.ReplaceAllString(s, " ")
}

// Text returns the visible text of a fragment with whitespace collapsed.
func Text(fragment string) string {
	if !strings.ContainsRune(fragment, '<') && !strings.ContainsRune(fragment, '&') {
		return collapse(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapse(DecodeEntities(StripTags(fragment)))
	}
	return collapse(doc.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Element is an element found by Elements.
type Element struct {
	Name  string // lower-case tag name
	Open  string // opening tag
	Inner string
	Full  string
}

// Elements finds elements whose opening tag matches open. The first submatch
// of open must capture the tag name; each element ends at the first closing
// tag with that name. Matches starting inside a previous element are skipped.
func Elements(doc string, open *regexp.Regexp) []Element {
	var out []Element
	pos := 0
	for _, loc := range open.FindAllStringSubmatchIndex(doc, -1) {
		if loc[0] < pos || len(loc) < 4 || loc[2] < 0 {
			continue
		}
		name := strings.ToLower(doc[loc[2]:loc[3]])
		closeLoc := cached(`(?i)</` + regexp.QuoteMeta(name) + `\s*>`).FindStringIndex(doc[loc[1]:])
		if closeLoc == nil {
			continue
		}
		end := loc[1] + closeLoc[1]
		out = append(out, Element{
			Name:  name,
			Open:  doc[loc[0]:loc[1]],
			Inner: doc[loc[1] : loc[1]+closeLoc[0]],
			Full:  doc[loc[0]:end],
		})
		pos = end
	}
	return out
}
