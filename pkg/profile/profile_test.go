package profile

import (
	"errors"
	"reflect"
	"testing"

	cerrors "github.com/soclabs/caserisk/pkg/errors"
)

func testConfig() Config {
	return Config{
		AssetValues: map[string]float64{
			"workstation":             5000,
			"server":                  50000,
			"database":                500000,
			"critical_infrastructure": 2000000,
		},
		SensitivityMultipliers: map[string]float64{
			"public":       1,
			"internal":     2,
			"confidential": 10,
			"restricted":   20,
		},
		ExposureWeights: map[string]float64{
			"email_only":      15,
			"phone":           25,
			"credit_card":     40,
			"bank_account":    60,
			"drivers_license": 70,
			"medical_records": 80,
			"ssn":             85,
			"ssn_and_dl":      95,
		},
		DefaultAssetType:   "workstation",
		DefaultSensitivity: "internal",
	}
}

func TestParseTags(t *testing.T) {
	tags := ParseTags([]string{
		"asset:server",
		"Sensitivity:Confidential",
		"exposure:ssn",
		"exposure:phone",
		"no-colon-tag",
		"  ",
		"empty-value:",
	})

	if v, _ := tags.Get("asset"); v != "server" {
		t.Errorf("asset = %q, want server", v)
	}
	if v, _ := tags.Get("sensitivity"); v != "confidential" {
		t.Errorf("sensitivity = %q, want confidential (lowercased)", v)
	}
	if got := tags.All("exposure"); !reflect.DeepEqual(got, []string{"ssn", "phone"}) {
		t.Errorf("exposure = %v, want [ssn phone]", got)
	}
	if _, ok := tags.Get("no-colon-tag"); ok {
		t.Error("tags without a colon should be ignored")
	}
	if _, ok := tags.Get("empty-value"); ok {
		t.Error("tags with empty values should be ignored")
	}
}

func TestResolve_BusinessExplicit(t *testing.T) {
	r := NewResolver(testConfig())

	p, err := r.Resolve(ParseTags([]string{"asset:server", "sensitivity:confidential"}))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := Profile{Kind: Business, AssetType: "server", Sensitivity: "confidential"}
	if p != want {
		t.Errorf("Resolve() = %+v, want %+v", p, want)
	}
}

func TestResolve_BusinessDefaults(t *testing.T) {
	r := NewResolver(testConfig())

	p, err := r.Resolve(ParseTags([]string{"some:other"}))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.Kind != Business {
		t.Errorf("Kind = %v, want Business", p.Kind)
	}
	if p.AssetType != "workstation" {
		t.Errorf("AssetType = %q, want default workstation", p.AssetType)
	}
	if p.Sensitivity != "internal" {
		t.Errorf("Sensitivity = %q, want default internal", p.Sensitivity)
	}
}

func TestResolve_BusinessMostSevereAsset(t *testing.T) {
	r := NewResolver(testConfig())

	p, err := r.Resolve(ParseTags([]string{"asset:workstation", "asset:database", "asset:server"}))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.AssetType != "database" {
		t.Errorf("AssetType = %q, want database (highest value wins)", p.AssetType)
	}
}

func TestResolve_BusinessMostSevereSensitivity(t *testing.T) {
	r := NewResolver(testConfig())

	p, err := r.Resolve(ParseTags([]string{"asset:server", "sensitivity:public", "sensitivity:restricted", "sensitivity:internal"}))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.Sensitivity != "restricted" {
		t.Errorf("Sensitivity = %q, want restricted (highest multiplier wins)", p.Sensitivity)
	}
}

func TestResolve_ConsumerBasic(t *testing.T) {
	r := NewResolver(testConfig())

	p, err := r.Resolve(ParseTags([]string{"profile:consumer", "exposure:ssn"}))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := Profile{Kind: Consumer, ExposureType: "ssn"}
	if p != want {
		t.Errorf("Resolve() = %+v, want %+v", p, want)
	}
}

func TestResolve_ConsumerMissingExposure(t *testing.T) {
	r := NewResolver(testConfig())

	_, err := r.Resolve(ParseTags([]string{"profile:consumer"}))
	if err == nil {
		t.Fatal("Resolve() should fail without exposure tag")
	}
	if !errors.Is(err, ErrMissingRequiredTag) {
		t.Errorf("error should wrap ErrMissingRequiredTag, got %v", err)
	}
	if !cerrors.IsResolution(err) {
		t.Errorf("error should have resolution kind, got %v", cerrors.GetKind(err))
	}
}

func TestResolve_ConsumerMostSevereExposure(t *testing.T) {
	r := NewResolver(testConfig())

	// Same set in different insertion orders resolves identically.
	orders := [][]string{
		{"profile:consumer", "exposure:phone", "exposure:ssn", "exposure:credit_card"},
		{"profile:consumer", "exposure:ssn", "exposure:credit_card", "exposure:phone"},
		{"profile:consumer", "exposure:credit_card", "exposure:phone", "exposure:ssn"},
	}

	for _, raw := range orders {
		p, err := r.Resolve(ParseTags(raw))
		if err != nil {
			t.Fatalf("Resolve(%v) error = %v", raw, err)
		}
		if p.ExposureType != "ssn" {
			t.Errorf("Resolve(%v) exposure = %q, want ssn", raw, p.ExposureType)
		}
	}
}

func TestResolve_ExposureTieBreaksAlphabetically(t *testing.T) {
	cfg := testConfig()
	cfg.ExposureWeights["passport"] = 85 // same weight as ssn
	r := NewResolver(cfg)

	for _, raw := range [][]string{
		{"profile:consumer", "exposure:ssn", "exposure:passport"},
		{"profile:consumer", "exposure:passport", "exposure:ssn"},
	} {
		p, err := r.Resolve(ParseTags(raw))
		if err != nil {
			t.Fatalf("Resolve(%v) error = %v", raw, err)
		}
		if p.ExposureType != "passport" {
			t.Errorf("Resolve(%v) exposure = %q, want passport (alphabetical tie-break)", raw, p.ExposureType)
		}
	}
}

func TestResolve_UnknownValues(t *testing.T) {
	r := NewResolver(testConfig())

	tests := []struct {
		name string
		tags []string
	}{
		{"unknown asset", []string{"asset:mainframe"}},
		{"unknown sensitivity", []string{"asset:server", "sensitivity:ultra"}},
		{"unknown exposure", []string{"profile:consumer", "exposure:dna"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ParseTags(tt.tags))
			if err == nil {
				t.Fatal("Resolve() should fail for unknown table values")
			}
			if !errors.Is(err, ErrUnknownTagValue) {
				t.Errorf("error should wrap ErrUnknownTagValue, got %v", err)
			}
			if !cerrors.IsResolution(err) {
				t.Errorf("error should have resolution kind, got %v", cerrors.GetKind(err))
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	raw := []string{"profile:business", "asset:server", "exposure:phone"}

	got := ApplyOverrides(raw, Overrides{Profile: "consumer", Exposure: "ssn"})
	tags := ParseTags(got)

	if v, _ := tags.Get(TagProfile); v != "consumer" {
		t.Errorf("profile = %q, want consumer", v)
	}
	if all := tags.All(TagExposure); !reflect.DeepEqual(all, []string{"ssn"}) {
		t.Errorf("exposure = %v, want [ssn] (override replaces)", all)
	}
	if v, _ := tags.Get(TagAsset); v != "server" {
		t.Errorf("asset = %q, want server (untouched)", v)
	}

	// No overrides leaves tags alone.
	same := ApplyOverrides(raw, Overrides{})
	if !reflect.DeepEqual(same, raw) {
		t.Errorf("ApplyOverrides with empty overrides = %v, want %v", same, raw)
	}
}
