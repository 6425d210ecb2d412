// Package fingerprint computes stable content fingerprints for cases so
// repeat scoring runs can detect unchanged content and skip the pipeline.
//
// Fingerprints gate re-scoring: a case is scored again only when its
// fingerprint differs from the one recorded at the last successful run.
// The algorithm must therefore be stable across restarts and independent
// of the order the source returns tags, observables, or verdicts in.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Input carries the scoring-relevant content of one case: the tags that
// drive profile resolution and the observables with their verdicts.
// Anything that cannot change the score (assignee, comments, task state)
// stays out so irrelevant edits never trigger a re-score.
type Input struct {
	CaseID      string
	Title       string
	Tags        []string
	Observables []Observable
}

// Observable is one artifact with the verdicts recorded against it.
type Observable struct {
	Type     string
	Value    string
	Verdicts []Verdict
}

// Verdict is one analyzer's raw verdict on an observable.
type Verdict struct {
	Analyzer string
	Level    string
}

// Generate hashes the scoring-relevant case content into a fingerprint.
// The result is a SHA256 hash (64 hex characters). Tags, observables,
// and verdicts are sorted before hashing so input ordering never matters.
func Generate(in Input) string {
	var b strings.Builder
	b.WriteString("case:")
	b.WriteString(normalize(in.CaseID))
	b.WriteString("|title:")
	b.WriteString(normalize(in.Title))

	tags := make([]string, len(in.Tags))
	for i, tag := range in.Tags {
		tags[i] = normalize(tag)
	}
	sort.Strings(tags)
	b.WriteString("|tags:")
	b.WriteString(strings.Join(tags, ","))

	observables := make([]string, 0, len(in.Observables))
	for _, o := range in.Observables {
		verdicts := make([]string, 0, len(o.Verdicts))
		for _, v := range o.Verdicts {
			verdicts = append(verdicts, normalize(v.Analyzer)+"="+normalize(v.Level))
		}
		sort.Strings(verdicts)
		observables = append(observables, fmt.Sprintf("%s:%s:[%s]",
			normalize(o.Type),
			normalize(o.Value),
			strings.Join(verdicts, ","),
		))
	}
	sort.Strings(observables)
	b.WriteString("|observables:")
	b.WriteString(strings.Join(observables, ";"))

	return Hash(b.String())
}

// FromRevision derives a fingerprint from a source-provided revision
// stamp. Preferred over Generate when the case store maintains a reliable
// per-update timestamp, since it avoids fetching observables just to
// decide whether anything changed.
func FromRevision(caseID string, updatedAt time.Time) string {
	return Hash(fmt.Sprintf("rev:%s:%d", normalize(caseID), updatedAt.UnixMilli()))
}

// Hash computes the SHA256 hash of the input string.
// Returns 64 hex characters.
func Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// normalize trims and lowercases a string for consistent fingerprinting.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
