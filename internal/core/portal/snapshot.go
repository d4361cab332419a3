package portal

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Snapshot is a parsed copy of a result page. Reading fields from a snapshot
// costs one page fetch per search instead of one round trip per field.
type Snapshot struct {
	doc *goquery.Document
}

// NewSnapshot parses page HTML.
func NewSnapshot(html string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse result page: %w", err)
	}
	return &Snapshot{doc: doc}, nil
}

// Read returns the whitespace-collapsed text of the first element matching
// loc, or false when there is no such element or it is blank.
func (s *Snapshot) Read(loc Locator) (string, bool) {
	if s == nil || loc == "" {
		return "", false
	}
	sel := s.doc.Find(string(loc)).First()
	if sel.Length() == 0 {
		return "", false
	}
	text := strings.Join(strings.Fields(sel.Text()), " ")
	if text == "" {
		return "", false
	}
	return text, true
}
