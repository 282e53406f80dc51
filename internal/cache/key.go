package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContextPrefixLen bounds how much of the retrieval context participates in
// the cache key. Two requests whose contexts agree on this prefix are
// considered identical for caching.
const ContextPrefixLen = 512

// Key derives the normalized request fingerprint:
// normalize(message) + "|" + hash(contextPrefix) + "|" + model + "|" + projectID.
// Semantically identical requests (case, surrounding and internal whitespace)
// collide by construction.
func Key(message, contextText, model, projectID string) string {
	var b strings.Builder
	b.WriteString(normalize(message))
	b.WriteByte('|')
	b.WriteString(hashPrefix(contextText))
	b.WriteByte('|')
	b.WriteString(model)
	b.WriteByte('|')
	b.WriteString(projectID)
	return b.String()
}

// normalize lower-cases, trims, and collapses internal whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func hashPrefix(contextText string) string {
	prefix := contextText
	if len(prefix) > ContextPrefixLen {
		prefix = prefix[:ContextPrefixLen]
	}
	sum := sha256.Sum256([]byte(prefix))
	return hex.EncodeToString(sum[:8])
}
