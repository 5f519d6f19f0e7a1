// Package extract pulls plain text out of uploaded attachments so the
// content can be indexed for search.
package extract

import (
	"bytes"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// Text extracts searchable plain text from a file. Unknown content
// types fall back to treating the bytes as plain text.
func Text(content []byte, contentType string) (string, error) {
	switch normalizeContentType(contentType) {
	case "pdf":
		return fromPDF(content)
	case "html":
		return fromHTML(content), nil
	default:
		return string(content), nil
	}
}

func normalizeContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	// Strip charset and other parameters.
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf", "pdf":
		return "pdf"
	case "text/html", "html", "htm":
		return "html"
	default:
		return "text"
	}
}

func fromPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var text strings.Builder
	numPages := reader.NumPage()
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			log.Printf("extract: pdf page %d: %v", pageNum, err)
			continue
		}

		text.WriteString(pageText)
		text.WriteString("\n\n")
	}

	return text.String(), nil
}

func fromHTML(content []byte) string {
	text := string(content)
	text = stripElement(text, "script")
	text = stripElement(text, "style")
	text = tagRe.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

// stripElement removes an element and everything inside it.
func stripElement(text, tag string) string {
	re := regexp.MustCompile(`(?is)<` + tag + `\b[^>]*>.*?</` + tag + `>`)
	return re.ReplaceAllString(text, " ")
}
