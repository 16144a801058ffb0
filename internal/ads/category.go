// Package ads collects affiliate offers and high-performing ad creatives:
// ClickBank marketplace imports and the scheduled winning-ads scrapers.
package ads

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UncategorizedCategory is used for offers without a category.
const UncategorizedCategory = "Uncategorized"

// Category is a marketplace category split into its main and sub parts.
type Category struct {
	Main string  `json:"main"`
	Sub  *string `json:"sub"`
}

var categorySeparators = []string{" - ", ">", "/"}

// ParseCategory splits s on the first separator it contains (" - ", ">" or
// "/") and title-cases both parts.
func ParseCategory(s *string) Category {
	if s == nil || strings.TrimSpace(*s) == "" {
		return Category{Main: UncategorizedCategory}
	}
	raw := strings.TrimSpace(*s)
	caser := cases.Title(language.English)

	cut, sepLen := -1, 0
	for _, sep := range categorySeparators {
		if i := strings.Index(raw, sep); i >= 0 && (cut < 0 || i < cut) {
			cut, sepLen = i, len(sep)
		}
	}
	if cut < 0 {
		return Category{Main: caser.String(raw)}
	}

	main := strings.TrimSpace(raw[:cut])
	sub := strings.TrimSpace(raw[cut+sepLen:])
	if main == "" {
		main = UncategorizedCategory
	}
	cat := Category{Main: caser.String(main)}
	if sub != "" {
		titled := caser.String(sub)
		cat.Sub = &titled
	}
	return cat
}
