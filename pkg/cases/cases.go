// Package cases defines the case-store records consumed by the scoring
// pipeline: case summaries, full cases, and their observables. Records are
// immutable once fetched for a scoring pass; every pass re-fetches them.
package cases

import (
	"strings"

	"github.com/soclabs/caserisk/pkg/verdict"
)

// ObservableType classifies an indicator under investigation.
type ObservableType string

const (
	TypeIP     ObservableType = "ip"
	TypeDomain ObservableType = "domain"
	TypeURL    ObservableType = "url"
	TypeHash   ObservableType = "hash"
	TypeEmail  ObservableType = "email"
	TypePhone  ObservableType = "phone"
	TypeOther  ObservableType = "other"
)

// ParseObservableType maps a case-store data type string to an
// ObservableType. Unrecognized types map to TypeOther.
func ParseObservableType(s string) ObservableType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ip", "ip-addr", "ip_addr":
		return TypeIP
	case "domain", "fqdn", "hostname":
		return TypeDomain
	case "url", "uri", "uri_path":
		return TypeURL
	case "hash", "md5", "sha1", "sha256":
		return TypeHash
	case "mail", "email", "mail-subject":
		return TypeEmail
	case "phone", "phone-number":
		return TypePhone
	default:
		return TypeOther
	}
}

// TLP is the Traffic Light Protocol marking on an observable.
type TLP int

const (
	TLPWhite TLP = 0
	TLPGreen TLP = 1
	TLPAmber TLP = 2
	TLPRed   TLP = 3
)

// String returns the marking name.
func (t TLP) String() string {
	switch t {
	case TLPWhite:
		return "white"
	case TLPGreen:
		return "green"
	case TLPAmber:
		return "amber"
	case TLPRed:
		return "red"
	default:
		return "amber"
	}
}

// Observable is a single indicator attached to a case.
type Observable struct {
	// ID is the case store's identifier for this observable.
	ID string `json:"id"`

	// Type classifies the indicator.
	Type ObservableType `json:"type"`

	// Value is the opaque indicator value.
	Value string `json:"value"`

	// TLP is the sharing marking.
	TLP TLP `json:"tlp"`

	// Tags are free-form observable tags, carried through to reports.
	Tags []string `json:"tags,omitempty"`

	// Verdicts are the normalized analyzer judgments for this observable,
	// attached during a scoring pass.
	Verdicts []verdict.Verdict `json:"verdicts,omitempty"`
}

// CaseSummary identifies a candidate case returned by a listing.
type CaseSummary struct {
	// ID is the case store's case identifier.
	ID string `json:"id"`

	// Title is the case title.
	Title string `json:"title"`

	// Severity is the case store's own 1-4 severity marking.
	Severity int `json:"severity"`
}

// Case is a full case fetched for one scoring pass.
type Case struct {
	// ID is the case store's case identifier.
	ID string `json:"id"`

	// Title is the case title.
	Title string `json:"title"`

	// Severity is the case store's own 1-4 severity marking.
	Severity int `json:"severity"`

	// TLP is the case-level sharing marking, carried onto reports.
	TLP TLP `json:"tlp"`

	// Tags are the raw case tag strings (e.g. "asset:server").
	Tags []string `json:"tags"`

	// Fingerprint represents the case's current content version. A case is
	// re-scored only when its fingerprint differs from the last scored one.
	Fingerprint string `json:"fingerprint"`
}

// SeverityName maps the case store's numeric severity to its display name.
func SeverityName(severity int) string {
	switch severity {
	case 1:
		return "low"
	case 2:
		return "medium"
	case 3:
		return "high"
	case 4:
		return "critical"
	default:
		return "medium"
	}
}
