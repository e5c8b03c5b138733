// Package publish turns the annotated text into an output artifact through
// two narrow collaborators: a Converter from text to structured blocks and
// a Packager from blocks to one file.
package publish

import (
	"regexp"
	"strings"

	"glossa/internal/footnote"
	"glossa/internal/fsutil"
)

type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockFootnote  BlockKind = "footnote"
)

type SpanKind string

const (
	SpanText        SpanKind = "text"
	SpanEmphasis    SpanKind = "emphasis"
	SpanStrong      SpanKind = "strong"
	SpanFootnoteRef SpanKind = "footnote_ref"
)

type Span struct {
	Kind SpanKind `json:"kind"`
	Text string   `json:"text"`
}

type Block struct {
	Kind BlockKind `json:"kind"`
	// Level is the heading depth; 0 for other blocks.
	Level int `json:"level,omitempty"`
	// ID is the footnote id of a footnote block.
	ID    string `json:"id,omitempty"`
	Spans []Span `json:"spans"`
}

type Document struct {
	Title  string  `json:"title"`
	Blocks []Block `json:"blocks"`
}

type Converter interface {
	Convert(text string) ([]Block, error)
}

type Packager interface {
	Package(doc Document, dest string) error
}

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	inlineRe  = regexp.MustCompile(`\*\*([^*]+)\*\*|\*([^*]+)\*|\[\^([^\]\s]+)\]`)
)

// MarkdownConverter reads ATX headings, blank-line separated paragraphs,
// **strong**, *emphasis*, footnote references and footnote definitions.
type MarkdownConverter struct{}

func (MarkdownConverter) Convert(text string) ([]Block, error) {
	body, defs := footnote.Split(strings.ReplaceAll(text, "\r\n", "\n"))
	var blocks []Block
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if m := headingRe.FindStringSubmatch(para); m != nil && !strings.Contains(para, "\n") {
			blocks = append(blocks, Block{Kind: BlockHeading, Level: len(m[1]), Spans: spans(m[2])})
			continue
		}
		blocks = append(blocks, Block{Kind: BlockParagraph, Spans: spans(para)})
	}
	for _, def := range defs {
		blocks = append(blocks, Block{Kind: BlockFootnote, ID: def.ID, Spans: spans(def.Text)})
	}
	return blocks, nil
}

func spans(text string) []Span {
	var out []Span
	last := 0
	for _, m := range inlineRe.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > last {
			out = append(out, Span{Kind: SpanText, Text: text[last:m[0]]})
		}
		switch {
		case m[2] >= 0:
			out = append(out, Span{Kind: SpanStrong, Text: text[m[2]:m[3]]})
		case m[4] >= 0:
			out = append(out, Span{Kind: SpanEmphasis, Text: text[m[4]:m[5]]})
		default:
			out = append(out, Span{Kind: SpanFootnoteRef, Text: text[m[6]:m[7]]})
		}
		last = m[1]
	}
	if last < len(text) {
		out = append(out, Span{Kind: SpanText, Text: text[last:]})
	}
	return out
}

// FilePackager renders a Document back to Markdown and writes it atomically.
type FilePackager struct{}

func (FilePackager) Package(doc Document, dest string) error {
	return fsutil.AtomicWrite(dest, []byte(Render(doc)))
}

// Render writes blocks as Markdown: body blocks separated by blank lines,
// footnote definitions grouped at the end.
func Render(doc Document) string {
	var body, notes []string
	for _, block := range doc.Blocks {
		switch block.Kind {
		case BlockHeading:
			body = append(body, strings.Repeat("#", block.Level)+" "+renderSpans(block.Spans))
		case BlockFootnote:
			notes = append(notes, "[^"+block.ID+"]: "+renderSpans(block.Spans))
		default:
			body = append(body, renderSpans(block.Spans))
		}
	}
	out := strings.Join(body, "\n\n")
	if len(notes) > 0 {
		if out != "" {
			out += "\n\n"
		}
		out += strings.Join(notes, "\n")
	}
	return out + "\n"
}

func renderSpans(spans []Span) string {
	var b strings.Builder
	for _, span := range spans {
		switch span.Kind {
		case SpanStrong:
			b.WriteString("**" + span.Text + "**")
		case SpanEmphasis:
			b.WriteString("*" + span.Text + "*")
		case SpanFootnoteRef:
			b.WriteString("[^" + span.Text + "]")
		default:
			b.WriteString(span.Text)
		}
	}
	return b.String()
}

// Publish converts text and hands the result to the packager.
func Publish(c Converter, p Packager, title, text, dest string) error {
	blocks, err := c.Convert(text)
	if err != nil {
		return err
	}
	return p.Package(Document{Title: title, Blocks: blocks}, dest)
}
