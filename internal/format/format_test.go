package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat_LeadInAndStep(t *testing.T) {
	doc := Format("**Matrícula:** 1. Fecha: 10 de marzo")

	require.Equal(t, ContainerBlock, doc.Container)
	require.Len(t, doc.Blocks, 2)

	lead := doc.Blocks[0]
	require.Equal(t, BlockParagraph, lead.Kind)
	require.Equal(t, []Inline{{Kind: InlineStrong, Children: []Inline{{Kind: InlineText, Text: "Matrícula:"}}}}, lead.Inlines)

	step := doc.Blocks[1]
	require.Equal(t, BlockStep, step.Kind)
	require.Equal(t, "1", step.Badge)
	require.Equal(t, []Inline{
		{Kind: InlineStrong, Children: []Inline{{Kind: InlineText, Text: "Fecha:"}}},
		{Kind: InlineText, Text: " 10 de marzo"},
	}, step.Inlines)
}

func TestFormat_PlainParagraph(t *testing.T) {
	doc := Format("  Hola,   bienvenido  ")
	require.Equal(t, ContainerParagraph, doc.Container)
	require.Len(t, doc.Blocks, 1)
	require.Equal(t, []Inline{{Kind: InlineText, Text: "Hola, bienvenido"}}, doc.Blocks[0].Inlines)
}

func TestFormat_Empty(t *testing.T) {
	doc := Format("   ")
	require.Equal(t, ContainerParagraph, doc.Container)
	require.Empty(t, doc.Blocks)
}

func TestFormat_Blocks(t *testing.T) {
	text := "Requisitos importantes:\n• Copia de DNI\n- Foto carnet\n\nSegundo párrafo\ncon salto"
	doc := Format(text)

	require.Equal(t, ContainerBlock, doc.Container)
	kinds := make([]BlockKind, len(doc.Blocks))
	for i, b := range doc.Blocks {
		kinds[i] = b.Kind
	}
	require.Equal(t, []BlockKind{BlockHeader, BlockCallout, BlockCallout, BlockParagraph}, kinds)

	// "importantes" is not the whole word "importante".
	require.Equal(t, []Inline{{Kind: InlineText, Text: "Requisitos importantes:"}}, doc.Blocks[0].Inlines)
	require.Equal(t, []Inline{{Kind: InlineText, Text: "Copia de DNI"}}, doc.Blocks[1].Inlines)
	require.Equal(t, []Inline{
		{Kind: InlineText, Text: "Segundo párrafo"},
		{Kind: InlineBreak},
		{Kind: InlineText, Text: "con salto"},
	}, doc.Blocks[3].Inlines)
}

func TestFormat_HeaderWithTrailingText(t *testing.T) {
	doc := Format("Horario de atención: lunes a viernes")
	require.Len(t, doc.Blocks, 2)
	require.Equal(t, BlockHeader, doc.Blocks[0].Kind)
	require.Equal(t, BlockParagraph, doc.Blocks[1].Kind)
	require.Equal(t, "Horario de atención:\nlunes a viernes", doc.PlainText())
}

func TestFormat_Keywords(t *testing.T) {
	doc := Format("Es IMPORTANTE revisar la Metodología. Los datos y metadatos.")
	require.Equal(t, []Inline{
		{Kind: InlineText, Text: "Es "},
		{Kind: InlineHighlight, Text: "IMPORTANTE"},
		{Kind: InlineText, Text: " revisar la "},
		{Kind: InlineHighlight, Text: "Metodología"},
		{Kind: InlineText, Text: ". Los "},
		{Kind: InlineHighlight, Text: "datos"},
		{Kind: InlineText, Text: " y metadatos."},
	}, doc.Blocks[0].Inlines)
}

func TestFormat_SentenceSpacing(t *testing.T) {
	doc := Format("Primero.Segundo.Élite")
	require.Equal(t, "Primero. Segundo. Élite", doc.PlainText())
}

func TestFormat_StrongWithKeyword(t *testing.T) {
	doc := Format("**Nota importante** al final")
	require.Equal(t, []Inline{
		{Kind: InlineStrong, Children: []Inline{
			{Kind: InlineHighlight, Text: "Nota"},
			{Kind: InlineText, Text: " "},
			{Kind: InlineHighlight, Text: "importante"},
		}},
		{Kind: InlineText, Text: " al final"},
	}, doc.Blocks[0].Inlines)
}

func TestFormat_Deterministic(t *testing.T) {
	text := "**Matrícula:** 1. Fecha: 10 de marzo\n2. Pago: banco\n\n• Nota: traer DNI\nResultados del estudio:"
	first, err := HTML(text)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := HTML(text)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestRender_LeadInAndStep(t *testing.T) {
	out, err := HTML("**Matrícula:** 1. Fecha: 10 de marzo")
	require.NoError(t, err)
	require.Equal(t,
		`<div class="msg"><p class="msg-paragraph"><strong>Matrícula:</strong></p>`+
			`<div class="msg-step"><span class="msg-step-badge">1</span>`+
			`<span class="msg-step-body"><strong>Fecha:</strong> 10 de marzo</span></div></div>`,
		out)
	require.Equal(t, 1, strings.Count(out, `class="msg-step"`))
}

func TestRender_Paragraph(t *testing.T) {
	out, err := HTML("Hola\nmundo")
	require.NoError(t, err)
	require.Equal(t, `<p class="msg">Hola<br/>mundo</p>`, out)
}

func TestRender_EscapesMarkup(t *testing.T) {
	out, err := HTML(`<script>alert("x")</script> **<b>hola</b>**`)
	require.NoError(t, err)
	require.NotContains(t, out, "<script>")
	require.NotContains(t, out, "<b>")
	require.Contains(t, out, "&lt;script&gt;")
	require.Contains(t, out, "<strong>&lt;b&gt;hola&lt;/b&gt;</strong>")
}
