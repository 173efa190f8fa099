package activitypub

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	plainMentionRe = regexp.MustCompile(`(^|\s)@[\w.\-]+(@[\w\-]+(\.[\w\-]+)+)?`)
	plainURLRe     = regexp.MustCompile(`https?://\S+`)
)

// ExtractText turns note HTML into the plain text worth translating: markup,
// mentions and links are removed, hashtag words are kept, and whitespace is
// collapsed. An empty result means there is nothing to translate.
func ExtractText(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	text := content
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err == nil {
		doc.Find("script, style").Remove()
		doc.Find(".h-card").Remove()
		doc.Find(".mention").Not(".hashtag").Remove()
		doc.Find("a").Not(".hashtag").Remove()
		doc.Find("br").ReplaceWithHtml("\n")
		doc.Find("p, div, li, blockquote").AppendHtml("\n")
		text = doc.Text()
	}

	text = plainURLRe.ReplaceAllString(text, " ")
	text = plainMentionRe.ReplaceAllString(text, "$1")
	return strings.Join(strings.Fields(text), " ")
}

// linkedURLs returns every anchor href in content plus bare URLs in its text,
// with trailing punctuation trimmed.
func linkedURLs(content string) []string {
	var urls []string
	text := content
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			urls = append(urls, a.AttrOr("href", ""))
		})
		doc.Find("a").Remove()
		text = doc.Text()
	}
	for _, u := range plainURLRe.FindAllString(text, -1) {
		urls = append(urls, strings.TrimRight(u, ".,;:!?)\"'"))
	}
	return urls
}
