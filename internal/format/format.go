// Package format turns answer text into a structured document tree.
//
// The transform is a fixed, line-oriented pipeline: emphasis, numbered steps
// (with an emphasized label), bullet callouts, section headers, paragraph and
// line breaks, sentence spacing, keyword highlights and whitespace cleanup.
// Output is deterministic and carries no markup; Render produces escaped HTML.
package format

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockStep      BlockKind = "step"
	BlockCallout   BlockKind = "callout"
	BlockHeader    BlockKind = "header"
)

type InlineKind string

const (
	InlineText      InlineKind = "text"
	InlineStrong    InlineKind = "strong"
	InlineHighlight InlineKind = "highlight"
	InlineBreak     InlineKind = "break"
)

// Container tells the renderer how to wrap the blocks.
type Container string

const (
	ContainerParagraph Container = "paragraph"
	ContainerBlock     Container = "block"
)

type Inline struct {
	Kind     InlineKind `json:"kind"`
	Text     string     `json:"text,omitempty"`
	Children []Inline   `json:"children,omitempty"`
}

type Block struct {
	Kind    BlockKind `json:"kind"`
	Badge   string    `json:"badge,omitempty"` // step number
	Inlines []Inline  `json:"inlines"`
}

type Document struct {
	Container Container `json:"container"`
	Blocks    []Block   `json:"blocks"`
}

// Keywords are highlighted wherever they occur as whole words.
var Keywords = []string{
	"objetivo", "metodología", "resultados", "conclusiones", "investigación", "estudio",
	"análisis", "datos", "importante", "atención", "nota", "recomendación", "limitaciones",
}

var (
	paragraphSplitRe = regexp.MustCompile(`\n[ \t]*\n`)
	leadInStepRe     = regexp.MustCompile(`^(\*\*.+?\*\*)\s+(\d+\.\s+.*)$`)
	stepRe           = regexp.MustCompile(`^(\d+)\.\s+(.*)$`)
	stepLabelRe      = regexp.MustCompile(`^([^:*]+):`)
	bulletRe         = regexp.MustCompile(`^(?:•|-|\*)\s+(.*)$`)
	headerRe         = regexp.MustCompile(`^([A-ZÁÉÍÓÚÑ][^:]{3,}):(?:\s+(.*))?$`)
	strongRe         = regexp.MustCompile(`\*\*(.+?)\*\*`)
	sentenceRe       = regexp.MustCompile(`\.([A-ZÁÉÍÓÚÑ])`)
	spaceRe          = regexp.MustCompile(`\s+`)
	keywordRe        = regexp.MustCompile(`(?i)(` + strings.Join(Keywords, "|") + `)`)
)

// Format converts answer text into a Document. Empty input yields an empty
// paragraph container.
func Format(text string) Document {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)

	var blocks []Block
	paragraphs := 0
	for _, para := range paragraphSplitRe.Split(text, -1) {
		b := parseParagraph(para)
		for _, blk := range b {
			if blk.Kind == BlockParagraph {
				paragraphs++
			}
		}
		blocks = append(blocks, b...)
	}
	if blocks == nil {
		blocks = []Block{}
	}

	container := ContainerBlock
	if len(blocks) <= 1 && paragraphs == len(blocks) {
		container = ContainerParagraph
	}
	return Document{Container: container, Blocks: blocks}
}

func parseParagraph(para string) []Block {
	var blocks []Block
	var current []Inline

	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, Block{Kind: BlockParagraph, Inlines: current})
			current = nil
		}
	}
	addText := func(line string) {
		inlines := parseInline(line)
		if len(inlines) == 0 {
			return
		}
		if len(current) > 0 {
			current = append(current, Inline{Kind: InlineBreak})
		}
		current = append(current, inlines...)
	}

	for _, raw := range strings.Split(para, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		// "**Label:** 1. body" keeps its lead-in as text and opens a step.
		if m := leadInStepRe.FindStringSubmatch(line); m != nil {
			addText(m[1])
			line = m[2]
		}

		switch {
		case stepRe.MatchString(line):
			flush()
			m := stepRe.FindStringSubmatch(line)
			blocks = append(blocks, Block{Kind: BlockStep, Badge: m[1], Inlines: parseStepBody(m[2])})
		case bulletRe.MatchString(line):
			flush()
			m := bulletRe.FindStringSubmatch(line)
			blocks = append(blocks, Block{Kind: BlockCallout, Inlines: parseInline(m[1])})
		case headerRe.MatchString(line):
			flush()
			m := headerRe.FindStringSubmatch(line)
			blocks = append(blocks, Block{Kind: BlockHeader, Inlines: parseInline(m[1] + ":")})
			if m[2] != "" {
				addText(m[2])
			}
		default:
			addText(line)
		}
	}
	flush()
	return blocks
}

// parseStepBody emphasizes a leading "Label:" before inline parsing.
func parseStepBody(body string) []Inline {
	m := stepLabelRe.FindStringSubmatch(body)
	if m == nil {
		return parseInline(body)
	}
	label := strings.TrimSpace(m[1]) + ":"
	out := []Inline{{Kind: InlineStrong, Children: parseText(label)}}
	if rest := parseInline(body[len(m[0]):]); len(rest) > 0 {
		out = append(out, Inline{Kind: InlineText, Text: " "})
		out = append(out, rest...)
	}
	return trimInlines(out)
}

// parseInline handles emphasis, then text-level rules on the pieces.
func parseInline(s string) []Inline {
	var out []Inline
	last := 0
	for _, loc := range strongRe.FindAllStringSubmatchIndex(s, -1) {
		out = append(out, parseText(s[last:loc[0]])...)
		if children := parseText(s[loc[2]:loc[3]]); len(children) > 0 {
			out = append(out, Inline{Kind: InlineStrong, Children: children})
		}
		last = loc[1]
	}
	out = append(out, parseText(s[last:])...)
	return trimInlines(out)
}

// parseText applies sentence spacing, whitespace collapse and keyword
// highlighting to a run of plain text.
func parseText(s string) []Inline {
	s = sentenceRe.ReplaceAllString(s, ". $1")
	s = spaceRe.ReplaceAllString(s, " ")
	if s == "" {
		return nil
	}

	var out []Inline
	last := 0
	for _, loc := range keywordRe.FindAllStringIndex(s, -1) {
		if !isWordBoundary(s, loc[0], loc[1]) {
			continue
		}
		if loc[0] > last {
			out = append(out, Inline{Kind: InlineText, Text: s[last:loc[0]]})
		}
		out = append(out, Inline{Kind: InlineHighlight, Text: s[loc[0]:loc[1]]})
		last = loc[1]
	}
	if last < len(s) {
		out = append(out, Inline{Kind: InlineText, Text: s[last:]})
	}
	return out
}

func isWordBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// trimInlines drops leading/trailing whitespace at the edges of a block and
// merges adjacent text nodes.
func trimInlines(in []Inline) []Inline {
	var out []Inline
	for _, n := range in {
		if n.Kind == InlineText && len(out) > 0 && out[len(out)-1].Kind == InlineText {
			merged := out[len(out)-1].Text + n.Text
			out[len(out)-1].Text = spaceRe.ReplaceAllString(merged, " ")
			continue
		}
		out = append(out, n)
	}

	for len(out) > 0 && out[0].Kind == InlineText {
		out[0].Text = strings.TrimLeft(out[0].Text, " ")
		if out[0].Text != "" {
			break
		}
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1].Kind == InlineText {
		i := len(out) - 1
		out[i].Text = strings.TrimRight(out[i].Text, " ")
		if out[i].Text != "" {
			break
		}
		out = out[:i]
	}
	return out
}

// PlainText flattens a document back to its visible text.
func (d Document) PlainText() string {
	var b strings.Builder
	for i, blk := range d.Blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		if blk.Badge != "" {
			b.WriteString(blk.Badge + ". ")
		}
		writePlain(&b, blk.Inlines)
	}
	return b.String()
}

func writePlain(b *strings.Builder, inlines []Inline) {
	for _, n := range inlines {
		switch n.Kind {
		case InlineBreak:
			b.WriteString("\n")
		case InlineStrong:
			writePlain(b, n.Children)
		default:
			b.WriteString(n.Text)
		}
	}
}
