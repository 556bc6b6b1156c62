package domain

import "strings"

// Purpose names the upload namespace an object key was issued under. There
// is exactly one purpose per job kind; keys minted for one purpose are
// rejected when submitted for another.
type Purpose string

const sourceKeyPrefix = "sources/"

// PurposeForKind maps a job kind to its upload namespace.
func PurposeForKind(kind JobKind) Purpose {
	return Purpose(kind)
}

// ParsePurpose validates a client-supplied purpose string.
func ParsePurpose(s string) (Purpose, error) {
	if JobKind(s).Valid() {
		return Purpose(s), nil
	}
	return "", ErrUnknownPurpose
}

// SourceKeyFor builds the storage prefix for uploads under a purpose.
// Keys look like sources/<purpose>/<uuid><ext>.
func SourceKeyFor(p Purpose, name string) string {
	return sourceKeyPrefix + string(p) + "/" + name
}

// KeyPurpose extracts the purpose namespace from an object key. It returns
// the empty purpose for keys that were not minted by the upload gateway.
func KeyPurpose(key string) Purpose {
	rest, ok := strings.CutPrefix(key, sourceKeyPrefix)
	if !ok {
		return ""
	}
	ns, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	if !JobKind(ns).Valid() {
		return ""
	}
	return Purpose(ns)
}
