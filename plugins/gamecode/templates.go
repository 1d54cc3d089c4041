package gamecode

import (
	"strconv"
	"strings"
)

// vars are the values a template may reference as {title}, {name}, {count}
// and {total}. Unknown placeholders are left as written.
type vars struct {
	Title string
	Name  string
	Count int
	Total int
}

func render(tmpl string, v vars) string {
	title := strings.TrimSpace(v.Title)
	if title == "" {
		title = "the game"
	}
	return strings.NewReplacer(
		"{title}", title,
		"{name}", v.Name,
		"{count}", strconv.Itoa(v.Count),
		"{total}", strconv.Itoa(v.Total),
	).Replace(tmpl)
}

// withFooter appends the rendered footer to a private message.
func withFooter(message, footer string, v vars) string {
	footer = strings.TrimSpace(footer)
	if footer == "" {
		return message
	}
	return message + "\n\n" + render(footer, v)
}
