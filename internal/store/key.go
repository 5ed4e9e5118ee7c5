package store

import "strings"

// keySuffix is appended to every derived object key. Documents are stored
// as their rendered HTML representation.
const keySuffix = ".html"

// ObjectKey derives the object key for a document from its canonical
// link. The URL scheme prefix is stripped and the HTML suffix appended:
// "https://example.com/t1" becomes "example.com/t1.html".
//
// The key is a pure function of the link, so titles may change without
// affecting it. It serves as the stable join key between the document
// source and the object store, both for existence checks and for writes.
func ObjectKey(link string) string {
	parts := strings.Split(link, "//")
	if len(parts) > 1 {
		link = strings.Join(parts[1:], "")
	}

	return link + keySuffix
}
