package tab

import (
	"fmt"
	"net/url"
	"strings"
)

// Category is the priority bucket a tab is filed under.
type Category int

const (
	// CategoryUncategorized means no assignment has been made yet.
	CategoryUncategorized Category = 0
	// CategoryIgnore marks tabs that are safe to close.
	CategoryIgnore Category = 1
	// CategoryUseful marks tabs worth keeping around.
	CategoryUseful Category = 2
	// CategoryImportant marks tabs that must be kept.
	CategoryImportant Category = 3
)

// DefaultCategory is the fallback when no source offers a usable prediction.
const DefaultCategory = CategoryUseful

// String returns the human-readable category name.
func (c Category) String() string {
	switch c {
	case CategoryUncategorized:
		return "uncategorized"
	case CategoryIgnore:
		return "ignore"
	case CategoryUseful:
		return "useful"
	case CategoryImportant:
		return "important"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Valid reports whether the category is one of the defined buckets.
func (c Category) Valid() bool {
	return c >= CategoryUncategorized && c <= CategoryImportant
}

// ParseCategory validates a raw integer category.
func ParseCategory(v int) (Category, error) {
	c := Category(v)
	if !c.Valid() {
		return CategoryUncategorized, fmt.Errorf("invalid category: %d", v)
	}
	return c, nil
}

// Tab is a browser tab as seen by the categorization layer.
type Tab struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Domain returns the tab's hostname with any www. prefix stripped.
// An unparseable URL yields an empty domain.
func (t Tab) Domain() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
