package browser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

// maxInventory caps the element inventory so prompts stay bounded on
// pathological pages.
const maxInventory = 120

// BuildInventory parses a page snapshot and returns the numbered
// interactive-element inventory the rest of the engine works with.
// Indexes are assigned in document order and are stable for one snapshot.
func BuildInventory(html string) []schemas.InteractiveElement {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	labels := collectLabels(doc)

	var out []schemas.InteractiveElement
	doc.Find(`input, select, textarea, button, a[href], [role="button"]`).
		EachWithBreak(func(_ int, el *goquery.Selection) bool {
			tag := goquery.NodeName(el)

			elType, _ := el.Attr("type")
			if tag == "input" && elType == "hidden" {
				return true
			}

			name, _ := el.Attr("name")
			id, _ := el.Attr("id")
			placeholder, _ := el.Attr("placeholder")
			value, _ := el.Attr("value")
			href, _ := el.Attr("href")
			_, required := el.Attr("required")

			text := strings.TrimSpace(el.Text())
			if len(text) > 80 {
				text = text[:80]
			}

			item := schemas.InteractiveElement{
				Index:       len(out) + 1,
				Tag:         tag,
				ElementType: elType,
				Name:        name,
				Label:       labels[id],
				Placeholder: placeholder,
				Text:        text,
				Value:       value,
				Href:        href,
				Required:    required,
				Selector:    buildSelector(el, tag, id, name),
			}
			out = append(out, item)
			return len(out) < maxInventory
		})
	return out
}

// collectLabels maps input ids to their <label for=...> text.
func collectLabels(doc *goquery.Document) map[string]string {
	labels := make(map[string]string)
	doc.Find("label[for]").Each(func(_ int, l *goquery.Selection) {
		target, _ := l.Attr("for")
		if target == "" {
			return
		}
		if text := strings.TrimSpace(l.Text()); text != "" {
			labels[target] = text
		}
	})
	return labels
}

// buildSelector produces the most specific CSS selector available for the
// element: id, then name, then a positional fallback.
func buildSelector(el *goquery.Selection, tag, id, name string) string {
	if id != "" {
		return "#" + id
	}
	if name != "" {
		return fmt.Sprintf(`%s[name="%s"]`, tag, name)
	}
	if tag == "a" {
		if href, ok := el.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "javascript:") {
			return fmt.Sprintf(`a[href="%s"]`, href)
		}
	}
	// Positional fallback: nth element of this tag in the document.
	idx := el.PrevAllFiltered(tag).Length() + 1
	return fmt.Sprintf("%s:nth-of-type(%d)", tag, idx)
}

// FormFieldStatus summarizes which fields currently hold values. It backs
// the post-submit recovery loop, where forms silently clear their fields
// and the screenshot alone cannot tell filled from placeholder.
func FormFieldStatus(elements []schemas.InteractiveElement, read func(selector string) (string, bool)) string {
	var b strings.Builder
	for _, el := range elements {
		if el.Tag != "input" && el.Tag != "textarea" && el.Tag != "select" {
			continue
		}
		val, ok := read(el.Selector)
		if !ok {
			continue
		}
		status := "EMPTY"
		if strings.TrimSpace(val) != "" {
			status = "FILLED"
		}
		descr := el.Name
		if descr == "" {
			descr = el.Selector
		}
		if el.Placeholder != "" {
			fmt.Fprintf(&b, "  - %s [placeholder: %q]: %s\n", descr, el.Placeholder, status)
		} else {
			fmt.Fprintf(&b, "  - %s: %s\n", descr, status)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "FORM FIELD STATUS:\n" + strings.TrimRight(b.String(), "\n")
}
