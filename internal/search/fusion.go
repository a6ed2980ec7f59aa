package search

import (
	"regexp"
	"sort"
	"strings"
)

// Adaptive RRF K values. Symbol-shaped queries get the sharpest ranking,
// short queries a moderately sharp one, everything else the configured
// default.
const (
	rrfKSymbol = 20
	rrfKShort  = 30

	shortQueryTokens = 5
)

var (
	camelCaseRe = regexp.MustCompile(`[a-z][A-Z]`)
	snakeCaseRe = regexp.MustCompile(`\w+_\w+`)
	wordRe      = regexp.MustCompile(`\w+`)
)

// adaptiveK chooses the RRF constant from the query's shape.
func adaptiveK(query string, defaultK int) int {
	if camelCaseRe.MatchString(query) || snakeCaseRe.MatchString(query) {
		return rrfKSymbol
	}
	if len(strings.Fields(query)) < shortQueryTokens {
		return rrfKShort
	}
	return defaultK
}

// fusedDoc accumulates a document's score across the input rankings.
type fusedDoc struct {
	result      Result
	score       float64
	vectorRank  int // 1-indexed, 0 if absent
	keywordRank int // 1-indexed, 0 if absent
}

// fuse combines the vector and keyword result lists with RRF, applies the
// symbol boost, sorts, and returns the top limit results. Ties break on the
// original vector rank, then the keyword rank.
func fuse(query string, vectorResults, keywordResults []Result, limit, defaultK int) []Result {
	k := adaptiveK(query, defaultK)
	queryWords := queryWords(query)

	docs := make(map[string]*fusedDoc, len(vectorResults)+len(keywordResults))
	key := func(r *Result) string {
		if r.ID != "" {
			return r.ID
		}
		return r.FilePath
	}

	for i := range vectorResults {
		r := &vectorResults[i]
		doc, ok := docs[key(r)]
		if !ok {
			doc = &fusedDoc{result: *r}
			docs[key(r)] = doc
		}
		doc.vectorRank = i + 1
		doc.score += 1.0 / float64(k+i+1)
	}
	for i := range keywordResults {
		r := &keywordResults[i]
		doc, ok := docs[key(r)]
		if !ok {
			doc = &fusedDoc{result: *r}
			docs[key(r)] = doc
		}
		doc.keywordRank = i + 1
		doc.score += 1.0 / float64(k+i+1)
	}

	fused := make([]*fusedDoc, 0, len(docs))
	for _, doc := range docs {
		boost := symbolBoost(&doc.result.Row, queryWords)
		doc.score += boost
		doc.result.SymbolBoost = boost
		fused = append(fused, doc)
	}

	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if ra, rb := rankOrMax(a.vectorRank), rankOrMax(b.vectorRank); ra != rb {
			return ra < rb
		}
		return rankOrMax(a.keywordRank) < rankOrMax(b.keywordRank)
	})

	if len(fused) > limit {
		fused = fused[:limit]
	}

	out := make([]Result, len(fused))
	for i, doc := range fused {
		doc.result.RRFScore = doc.score
		doc.result.AdaptiveK = k
		out[i] = doc.result
	}
	return out
}

func rankOrMax(rank int) int {
	if rank == 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}

func queryWords(query string) []string {
	return wordRe.FindAllString(strings.ToLower(query), -1)
}
