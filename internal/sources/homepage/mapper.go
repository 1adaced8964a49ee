package homepage

import (
	"errors"
	"sort"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
)

// ErrNoBookmarks is returned when a file yields no importable bookmark.
var ErrNoBookmarks = errors.New("no valid bookmarks found in config")

// Entry is one importable bookmark.
type Entry struct {
	Category string
	Title    string
	URL      string
}

// Skipped describes an entry that could not be imported.
type Skipped struct {
	Category string
	Name     string
	Reason   string
}

// Mapper converts Homepage bookmark config to import entries
type Mapper struct{}

// NewMapper creates a new bookmark mapper
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapEntries flattens config in file order. Bookmark names within one
// category entry are visited alphabetically. Entries without a valid http(s)
// href are reported as skipped; repeated URLs keep their first occurrence.
func (m *Mapper) MapEntries(config BookmarksConfig) ([]Entry, []Skipped, error) {
	entries := make([]Entry, 0)
	var skipped []Skipped
	seen := make(map[string]bool)

	for _, category := range config {
		for _, categoryName := range sortedKeys(category) {
			for _, bookmarkMap := range category[categoryName] {
				for _, bookmarkName := range sortedKeys(bookmarkMap) {
					entryList := bookmarkMap[bookmarkName]
					// Each bookmark has a list with a single entry
					if len(entryList) == 0 {
						continue
					}
					entry := entryList[0]

					url, err := domain.ValidateURL(entry.Href)
					if err != nil {
						var ve *domain.ValidationError
						reason := err.Error()
						if errors.As(err, &ve) {
							reason = ve.Reason
						}
						skipped = append(skipped, Skipped{Category: categoryName, Name: bookmarkName, Reason: reason})
						continue
					}
					if seen[url] {
						continue
					}
					seen[url] = true

					entries = append(entries, Entry{
						Category: categoryName,
						Title:    bookmarkName,
						URL:      url,
					})
				}
			}
		}
	}

	if len(entries) == 0 {
		return nil, skipped, ErrNoBookmarks
	}

	return entries, skipped, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
