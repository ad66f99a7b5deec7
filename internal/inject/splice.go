package inject

import "bytes"

// InsertBefore returns source with data spliced in immediately before the
// first occurrence of marker. If marker does not occur in source, source is
// returned unchanged. Bytes are treated as opaque; no text encoding is assumed.
//
// An empty marker never matches.
func InsertBefore(source, marker, data []byte) []byte {
	out, _ := insertBefore(source, marker, data)
	return out
}

// insertBefore is InsertBefore that also reports whether the marker was found.
func insertBefore(source, marker, data []byte) ([]byte, bool) {
	if len(marker) == 0 {
		return source, false
	}
	p := bytes.Index(source, marker)
	if p < 0 {
		return source, false
	}

	out := make([]byte, 0, len(source)+len(data))
	out = append(out, source[:p]...)
	out = append(out, data...)
	out = append(out, source[p:]...)
	return out, true
}
