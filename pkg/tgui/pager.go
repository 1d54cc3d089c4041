package tgui

import "fmt"

// Page returns the page-th (0-based) window of items, clamping page into
// range, together with the clamped page and the total page count.
func Page[T any](items []T, page, size int) (sub []T, cur, pages int) {
	if size <= 0 {
		size = 10
	}
	pages = max(1, (len(items)+size-1)/size)
	cur = min(max(page, 0), pages-1)
	start := min(cur*size, len(items))
	end := min(start+size, len(items))
	return items[start:end], cur, pages
}

// PageLabel renders "Page 2/5" style labels. page is 0-based.
func PageLabel(page, pages int) string {
	return fmt.Sprintf("Page %d/%d", page+1, max(pages, 1))
}
