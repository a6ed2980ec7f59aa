package search

import (
	"strings"

	"github.com/retoolsx/codebox/internal/store"
)

// Symbol boost weights, applied additively on top of the RRF score.
const (
	boostNodeName   = 0.3
	boostSignature  = 0.2
	boostDefinition = 0.15
	boostDocstring  = 0.1
	boostTopLevel   = 0.05
	penaltyPerDepth = 0.05
)

// definitionKinds are the chunk types treated as primary definitions.
var definitionKinds = map[string]bool{
	"function_definition":   true,
	"class_definition":      true,
	"method_definition":     true,
	"interface_declaration": true,
}

// symbolBoost scores how well a chunk's symbol metadata aligns with the
// query words.
func symbolBoost(row *store.Row, queryWords []string) float64 {
	boost := 0.0

	if name := strings.ToLower(row.NodeName); name != "" {
		if anySubstring(name, queryWords) {
			boost += boostNodeName
		}
	}
	if sig := strings.ToLower(row.Signature); sig != "" {
		if anySubstring(sig, queryWords) {
			boost += boostSignature
		}
	}
	if definitionKinds[row.ChunkType] {
		boost += boostDefinition
	}
	if strings.TrimSpace(row.Docstring) != "" {
		boost += boostDocstring
	}
	if row.ScopeDepth == 0 {
		boost += boostTopLevel
	} else {
		boost -= penaltyPerDepth * float64(row.ScopeDepth)
	}

	return boost
}

func anySubstring(haystack string, words []string) bool {
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}
