package selectors

import "github.com/roach88/retrosync/internal/ir"

// DefaultCategory is the category a new idea starts in. It is derived from
// the current inputs on every read and never stored.
func DefaultCategory(showActionItem bool) string {
	if showActionItem {
		return ir.CategoryActionItem
	}
	return ir.CategoryHappy
}

// CategoryOptions lists the categories a participant may pick from.
func CategoryOptions(showActionItem bool) []string {
	if showActionItem {
		return []string{ir.CategoryActionItem}
	}
	return []string{ir.CategoryHappy, ir.CategorySad, ir.CategoryConfused}
}
