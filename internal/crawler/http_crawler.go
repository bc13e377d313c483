package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/amankumarsingh77/crawlindex/models"
	readability "github.com/go-shiori/go-readability"
)

// Extractor turns fetched HTML into a ParsedDocument.
type Extractor struct {
	analyzer *common.Analyzer
	// below this many runes the readability text is replaced by the whole body text
	minArticleLen int
}

func NewExtractor(analyzer *common.Analyzer) *Extractor {
	if analyzer == nil {
		analyzer = common.DefaultAnalyzer()
	}
	return &Extractor{analyzer: analyzer, minArticleLen: 200}
}

func (e *Extractor) Extract(pageURL string, body []byte) (*models.ParsedDocument, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	parsed := &models.ParsedDocument{
		URL:         pageURL,
		Title:       collapse(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(doc.Find("meta[name='description']").AttrOr("content", "")),
		Links:       extractLinks(doc, base),
	}

	text := e.articleText(body, base)
	if len([]rune(text)) < e.minArticleLen {
		text = bodyText(doc)
	}
	parsed.Text = text
	if parsed.Title == "" {
		parsed.Title = collapse(doc.Find("h1").First().Text())
	}

	parsed.Tokens = e.analyzer.Tokens(parsed.Title + " " + parsed.Text)
	parsed.TermPositions = common.TermPositions(parsed.Tokens)
	return parsed, nil
}

func (e *Extractor) articleText(body []byte, base *url.URL) string {
	article, err := readability.FromReader(bytes.NewReader(body), base)
	if err != nil {
		return ""
	}
	content, err := goquery.NewDocumentFromReader(strings.NewReader(spaceBlocks(article.Content)))
	if err != nil {
		return ""
	}
	return collapse(content.Text())
}

func bodyText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, template, svg").Remove()

	var sb strings.Builder
	body.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// nested matches are covered by their outermost ancestor
		if s.ParentsFiltered("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Length() > 0 {
			return
		}
		if text := collapse(s.Text()); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	})
	if sb.Len() == 0 {
		return collapse(body.Text())
	}
	return strings.TrimSpace(sb.String())
}

func extractLinks(doc *goquery.Document, base *url.URL) []models.Link {
	seen := make(map[string]bool)
	var links []models.Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if rel := strings.ToLower(s.AttrOr("rel", "")); strings.Contains(rel, "nofollow") {
			return
		}
		abs, err := common.ResolveLink(base, s.AttrOr("href", ""))
		if err != nil || seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, models.Link{URL: abs, Text: collapse(s.Text())})
	})
	return links
}

func spaceBlocks(html string) string {
	r := strings.NewReplacer(
		"<p", " <p", "</p>", "</p> ",
		"<div", " <div", "</div>", "</div> ",
		"<li", " <li", "</li>", "</li> ",
		"<br", " <br",
		"<h1", " <h1", "<h2", " <h2", "<h3", " <h3",
		"</h1>", "</h1> ", "</h2>", "</h2> ", "</h3>", "</h3> ",
	)
	return r.Replace(html)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
