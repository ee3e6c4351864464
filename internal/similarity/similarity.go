// Package similarity scores how alike two work-item titles are.
//
// The score is a normalized edit distance in [0,1]. Titles are NFC-normalized,
// trimmed and whitespace-collapsed; titles that are equal after case folding
// score 1.0, so a case-only rewrite always auto-links. Otherwise conventional
// numbering and prefix tokens ("1.2", "Task 3:", "[4]", a leading "Implement")
// are stripped and the Levenshtein distance of the remaining text is divided
// by the longer length.
//
// Only the equality check folds case. The distance counts every changed
// letter case as an edit, so a rewrite that changes case and also fixes a
// typo scores well below the typo alone: "Setup database" against
// "Setup databse" auto-links, against "setup databse" it is only flagged
// for review.
//
// Everything here is pure: no I/O, no shared state.
package similarity

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Decision thresholds for duplicate resolution.
const (
	// AutoLinkThreshold is the lowest score at which an existing remote object
	// is linked without creating a new one.
	AutoLinkThreshold = 0.90

	// ReviewThreshold is the lowest score at which a match is flagged for
	// manual review. Scores below it are treated as unrelated.
	ReviewThreshold = 0.80

	// epsilon absorbs float rounding at the exact boundaries.
	epsilon = 1e-9
)

// Decision is the resolver branch implied by a score.
type Decision int

const (
	// DecisionCreate means no candidate is close enough.
	DecisionCreate Decision = iota
	// DecisionReview means create a new object and flag the candidate.
	DecisionReview
	// DecisionAutoLink means link to the candidate.
	DecisionAutoLink
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionAutoLink:
		return "auto_link"
	case DecisionReview:
		return "review"
	default:
		return "create"
	}
}

// Classify maps a score to a decision using the named thresholds.
func Classify(score float64) Decision {
	switch {
	case score+epsilon >= AutoLinkThreshold:
		return DecisionAutoLink
	case score+epsilon >= ReviewThreshold:
		return DecisionReview
	default:
		return DecisionCreate
	}
}

// Similarity returns the confidence that a and b name the same work item.
// It is symmetric and deterministic.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if fold(na) == fold(nb) {
		return 1.0
	}

	sa, sb := StripPrefix(na), StripPrefix(nb)
	la, lb := len([]rune(sa)), len([]rune(sb))
	longest := max(la, lb)
	if longest == 0 {
		return 1.0
	}

	d := Levenshtein(sa, sb)
	return 1.0 - float64(d)/float64(longest)
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize NFC-normalizes s, trims it and collapses internal whitespace.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func fold(s string) string {
	// Casers carry state; one per call.
	return cases.Fold().String(s)
}

// prefixPatterns match conventional leading labels. Each is applied
// repeatedly until the title stops changing.
var prefixPatterns = []*regexp.Regexp{
	// [3], [1.2], [ENG-12]
	regexp.MustCompile(`^\[\s*[\w.#-]+\s*\]\s*`),
	// (a), (3)
	regexp.MustCompile(`^\(\s*(?:\d+|[A-Za-z])\s*\)\s*`),
	// Task 3:, Subtask 1.2 -, Step #4.
	regexp.MustCompile(`^(?i:task|subtask|step|phase|part|item)\s*#?\s*\d+(?:\.\d+)*\s*[:.)-]?\s*`),
	// 1. , 1.2 , #12 , 3)
	regexp.MustCompile(`^#?\d+(?:\.\d+)*(?:[.):]\s*|\s+-\s+|\s+)`),
	// a) , b.
	regexp.MustCompile(`^[A-Za-z][.)]\s+`),
	// Leading "Implement"-style verbs that task generators prepend.
	regexp.MustCompile(`^(?i:implement|implementing)\s+`),
	// Separator debris left behind by the patterns above.
	regexp.MustCompile(`^[-:)\s]+`),
}

// StripPrefix removes conventional numbering and prefix tokens from the start of
// a normalized title. A title that would become empty is returned unchanged.
func StripPrefix(title string) string {
	out := title
	for {
		before := out
		for _, re := range prefixPatterns {
			out = re.ReplaceAllString(out, "")
		}
		if out == before {
			break
		}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return title
	}
	return out
}

// Levenshtein returns the rune-level edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
