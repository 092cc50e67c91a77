package fetcher

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/mmcdole/gofeed"
)

// reparseComplete parses the prefix of body that ends with the last complete
// item or entry element. It returns nil when nothing usable remains.
func reparseComplete(body string) *gofeed.Feed {
	repaired, ok := trimToLastEntry(body)
	if !ok {
		return nil
	}
	parsed, err := gofeed.NewParser().ParseString(repaired)
	if err != nil {
		return nil
	}
	return parsed
}

// trimToLastEntry cuts body right after the last closed <item> or <entry> and
// closes the elements that were still open at that point.
func trimToLastEntry(body string) (string, bool) {
	dec := xml.NewDecoder(strings.NewReader(body))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	// Only byte offsets matter here; gofeed decodes the charset on the second pass.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var (
		open    []string
		closing []string
		cut     int64 = -1
	)
	for {
		tok, err := dec.RawToken()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			open = append(open, qualifiedName(t.Name))
		case xml.EndElement:
			if len(open) == 0 {
				continue
			}
			open = open[:len(open)-1]
			if t.Name.Local == "item" || t.Name.Local == "entry" {
				cut = dec.InputOffset()
				closing = append(closing[:0], open...)
			}
		}
	}
	if cut < 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(body[:cut])
	for i := len(closing) - 1; i >= 0; i-- {
		b.WriteString("</" + closing[i] + ">")
	}
	return b.String(), true
}

// RawToken leaves the prefix in Space.
func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
