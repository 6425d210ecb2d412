// Package profile resolves raw case tags into a typed scoring profile.
//
// Tags arrive as "key:value" strings on the case. Parsing into the typed
// Profile happens here, as early as possible; downstream components never
// see raw tag strings.
package profile

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/soclabs/caserisk/pkg/errors"
)

// Tag keys recognized by the resolver.
const (
	TagProfile     = "profile"
	TagAsset       = "asset"
	TagSensitivity = "sensitivity"
	TagExposure    = "exposure"
)

// Resolution failure causes, wrapped inside KindResolution errors so callers
// can distinguish them with errors.Is.
var (
	// ErrMissingRequiredTag: consumer profile selected without any exposure tag.
	ErrMissingRequiredTag = stderrors.New("missing required tag")

	// ErrUnknownTagValue: a tag value is absent from the configured tables.
	ErrUnknownTagValue = stderrors.New("unknown tag value")
)

// Kind discriminates the two profile variants.
type Kind string

const (
	Business Kind = "business"
	Consumer Kind = "consumer"
)

// Profile is the typed scoring profile for one case. Exactly one variant is
// active: Business uses AssetType and Sensitivity, Consumer uses ExposureType.
type Profile struct {
	Kind Kind `json:"kind"`

	// Business parameters
	AssetType   string `json:"asset_type,omitempty"`
	Sensitivity string `json:"sensitivity,omitempty"`

	// Consumer parameter
	ExposureType string `json:"exposure_type,omitempty"`
}

// String renders the profile for logs.
func (p Profile) String() string {
	if p.Kind == Consumer {
		return fmt.Sprintf("consumer(exposure=%s)", p.ExposureType)
	}
	return fmt.Sprintf("business(asset=%s, sensitivity=%s)", p.AssetType, p.Sensitivity)
}

// CaseTags maps a tag key to its values, in case order. Keys and values are
// normalized to lower case on parse.
type CaseTags map[string][]string

// ParseTags parses raw "key:value" case tag strings. Tags without a colon
// carry no scoring information and are ignored.
func ParseTags(raw []string) CaseTags {
	tags := make(CaseTags)
	for _, t := range raw {
		key, value, ok := strings.Cut(t, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.ToLower(strings.TrimSpace(value))
		if key == "" || value == "" {
			continue
		}
		tags[key] = append(tags[key], value)
	}
	return tags
}

// Get returns the first value for a key.
func (t CaseTags) Get(key string) (string, bool) {
	values := t[key]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// All returns every value for a key.
func (t CaseTags) All(key string) []string {
	return t[key]
}

// Flat returns the tags re-joined as "key:value" strings, sorted, for logs.
func (t CaseTags) Flat() []string {
	var out []string
	for key, values := range t {
		for _, v := range values {
			out = append(out, key+":"+v)
		}
	}
	sort.Strings(out)
	return out
}

// Overrides carries CLI-level profile/exposure overrides applied before
// resolution. An override replaces any matching tag on the case.
type Overrides struct {
	Profile  string
	Exposure string
}

// ApplyOverrides returns the raw tags with overrides applied.
func ApplyOverrides(raw []string, o Overrides) []string {
	out := make([]string, 0, len(raw)+2)
	for _, t := range raw {
		key, _, _ := strings.Cut(t, ":")
		key = strings.ToLower(strings.TrimSpace(key))
		if o.Profile != "" && key == TagProfile {
			continue
		}
		if o.Exposure != "" && key == TagExposure {
			continue
		}
		out = append(out, t)
	}
	if o.Profile != "" {
		out = append(out, TagProfile+":"+strings.ToLower(o.Profile))
	}
	if o.Exposure != "" {
		out = append(out, TagExposure+":"+strings.ToLower(o.Exposure))
	}
	return out
}

// =============================================================================
// Resolver
// =============================================================================

// Defaults for business cases with no asset or sensitivity tag.
const (
	DefaultAssetType   = "workstation"
	DefaultSensitivity = "internal"
)

// Config holds the value tables the resolver validates tags against. The
// same tables feed the risk calculator; both are built once at startup.
type Config struct {
	// AssetValues maps asset type -> dollar value. Key presence defines the
	// set of known asset types.
	AssetValues map[string]float64

	// SensitivityMultipliers maps sensitivity level -> impact multiplier.
	SensitivityMultipliers map[string]float64

	// ExposureWeights maps exposure type -> severity weight (0..100).
	ExposureWeights map[string]float64

	// DefaultAssetType applies when a business case carries no asset tag.
	DefaultAssetType string

	// DefaultSensitivity applies when a business case carries no sensitivity tag.
	DefaultSensitivity string
}

// Resolver decides which scoring profile applies to a case.
type Resolver struct {
	cfg Config
}

// NewResolver creates a Resolver over the given tables.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve inspects case tags and produces the typed profile.
//
// A "profile:consumer" tag selects the Consumer variant, which requires at
// least one exposure tag; with several, the highest configured weight wins,
// ties broken by the lexicographically smallest type name. Any other case is
// Business, with configured defaults for missing asset/sensitivity tags;
// repeated asset or sensitivity tags likewise resolve to the highest
// configured weight.
// Values absent from the configured tables fail resolution; there is no
// silent zero-scoring.
func (r *Resolver) Resolve(tags CaseTags) (Profile, error) {
	const op = "profile.Resolve"

	if v, ok := tags.Get(TagProfile); ok && v == string(Consumer) {
		return r.resolveConsumer(op, tags)
	}
	return r.resolveBusiness(op, tags)
}

func (r *Resolver) resolveConsumer(op string, tags CaseTags) (Profile, error) {
	exposures := tags.All(TagExposure)
	if len(exposures) == 0 {
		return Profile{}, errors.E(errors.KindResolution, op,
			"consumer profile without exposure tag", ErrMissingRequiredTag)
	}

	for _, e := range exposures {
		if _, ok := r.cfg.ExposureWeights[e]; !ok {
			return Profile{}, errors.E(errors.KindResolution, op,
				fmt.Sprintf("exposure type %q not in configured table", e), ErrUnknownTagValue)
		}
	}

	return Profile{
		Kind:         Consumer,
		ExposureType: mostSevere(exposures, r.cfg.ExposureWeights),
	}, nil
}

func (r *Resolver) resolveBusiness(op string, tags CaseTags) (Profile, error) {
	assets := tags.All(TagAsset)
	var asset string
	switch len(assets) {
	case 0:
		asset = r.cfg.DefaultAssetType
	default:
		for _, a := range assets {
			if _, ok := r.cfg.AssetValues[a]; !ok {
				return Profile{}, errors.E(errors.KindResolution, op,
					fmt.Sprintf("asset type %q not in configured table", a), ErrUnknownTagValue)
			}
		}
		asset = mostSevere(assets, r.cfg.AssetValues)
	}
	if _, ok := r.cfg.AssetValues[asset]; !ok {
		return Profile{}, errors.E(errors.KindResolution, op,
			fmt.Sprintf("asset type %q not in configured table", asset), ErrUnknownTagValue)
	}

	sensitivities := tags.All(TagSensitivity)
	var sensitivity string
	switch len(sensitivities) {
	case 0:
		sensitivity = r.cfg.DefaultSensitivity
	default:
		for _, s := range sensitivities {
			if _, ok := r.cfg.SensitivityMultipliers[s]; !ok {
				return Profile{}, errors.E(errors.KindResolution, op,
					fmt.Sprintf("sensitivity %q not in configured table", s), ErrUnknownTagValue)
			}
		}
		sensitivity = mostSevere(sensitivities, r.cfg.SensitivityMultipliers)
	}
	if _, ok := r.cfg.SensitivityMultipliers[sensitivity]; !ok {
		return Profile{}, errors.E(errors.KindResolution, op,
			fmt.Sprintf("sensitivity %q not in configured table", sensitivity), ErrUnknownTagValue)
	}

	return Profile{
		Kind:        Business,
		AssetType:   asset,
		Sensitivity: sensitivity,
	}, nil
}

// mostSevere picks the value with the highest weight. Equal weights resolve
// to the lexicographically smallest name so resolution is deterministic
// regardless of tag order.
func mostSevere(values []string, weights map[string]float64) string {
	best := values[0]
	for _, v := range values[1:] {
		switch {
		case weights[v] > weights[best]:
			best = v
		case weights[v] == weights[best] && v < best:
			best = v
		}
	}
	return best
}
