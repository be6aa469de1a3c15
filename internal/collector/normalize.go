package collector

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
)

const (
	codeOpen  = "\uE010"
	codeClose = "\uE011"
)

var (
	htmlTagRe = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	scriptRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)

	fenceRe      = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*\\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	imageRe      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	refLinkRe    = regexp.MustCompile(`\[([^\]]+)\]\[[^\]]*\]`)
	headerRe     = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	quoteRe      = regexp.MustCompile(`(?m)^[ \t]{0,3}>[ \t]?`)
	ruleRe       = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	bulletRe     = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	boldStarRe   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__([^_]+)__`)
	italStarRe   = regexp.MustCompile(`\*(\S[^*]*\S|\S)\*`)
	italUnderRe  = regexp.MustCompile(`\b_([^_]+)_\b`)
	strikeRe     = regexp.MustCompile(`~~([^~]+)~~`)
	escapeRe     = regexp.MustCompile(`\\([\\` + "`" + `*_{}\[\]()#+\-.!>|~])`)

	// Escaped markup characters are parked on private-use runes so the
	// emphasis and link patterns never see them.
	escapeProtect = strings.NewReplacer(
		`\*`, "\uE000", `\_`, "\uE001", "\\`", "\uE002", `\[`, "\uE003",
		`\]`, "\uE004", `\#`, "\uE005", `\>`, "\uE006", `\~`, "\uE007",
	)
	codeSlotRe = regexp.MustCompile(codeOpen + `([0-9]+)` + codeClose)

	escapeRestore = strings.NewReplacer(
		"\uE000", "*", "\uE001", "_", "\uE002", "`", "\uE003", "[",
		"\uE004", "]", "\uE005", "#", "\uE006", ">", "\uE007", "~",
	)
)

// Normalizer reduces HTML or markdown fragments to single-line plain text.
type Normalizer struct {
	converter *md.Converter
}

// NewNormalizer builds a Normalizer with GitHub-flavored markdown support.
func NewNormalizer() *Normalizer {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Normalizer{converter: converter}
}

// Text returns the plain-text rendering of s with whitespace collapsed.
func (n *Normalizer) Text(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if htmlTagRe.MatchString(s) {
		s = n.htmlToMarkdown(s)
	}
	return collapse(markdownToText(s))
}

func (n *Normalizer) htmlToMarkdown(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = styleRe.ReplaceAllString(s, "")
	out, err := n.converter.ConvertString(s)
	if err == nil {
		return out
	}
	doc, qErr := goquery.NewDocumentFromReader(strings.NewReader(s))
	if qErr != nil {
		return htmlTagRe.ReplaceAllString(s, " ")
	}
	return doc.Text()
}

func markdownToText(s string) string {
	var code codeSpans
	s = escapeProtect.Replace(s)
	s = code.park(fenceRe, s)
	s = code.park(inlineCodeRe, s)
	s = imageRe.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1")
	s = refLinkRe.ReplaceAllString(s, "$1")
	s = headerRe.ReplaceAllString(s, "")
	s = quoteRe.ReplaceAllString(s, "")
	s = ruleRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = boldStarRe.ReplaceAllString(s, "$1")
	s = boldUnderRe.ReplaceAllString(s, "$1")
	s = italStarRe.ReplaceAllString(s, "$1")
	s = italUnderRe.ReplaceAllString(s, "$1")
	s = strikeRe.ReplaceAllString(s, "$1")
	s = escapeRe.ReplaceAllString(s, "$1")
	s = code.restore(s)
	s = escapeRestore.Replace(s)
	return html.UnescapeString(s)
}

// codeSpans holds code contents while the emphasis and link patterns run.
type codeSpans []string

func (c *codeSpans) park(re *regexp.Regexp, s string) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		*c = append(*c, re.FindStringSubmatch(m)[1])
		return codeOpen + strconv.Itoa(len(*c)-1) + codeClose
	})
}

func (c codeSpans) restore(s string) string {
	return codeSlotRe.ReplaceAllStringFunc(s, func(m string) string {
		i, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(m, codeOpen), codeClose))
		if err != nil || i >= len(c) {
			return m
		}
		return c[i]
	})
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
