package fingerprint

import (
	"testing"
	"time"
)

func sampleInput() Input {
	return Input{
		CaseID: "~4152",
		Title:  "Phishing campaign against finance",
		Tags:   []string{"profile:business", "asset:server", "sensitivity:confidential"},
		Observables: []Observable{
			{
				Type:  "ip",
				Value: "203.0.113.7",
				Verdicts: []Verdict{
					{Analyzer: "AbuseIPDB", Level: "malicious"},
					{Analyzer: "VirusTotal", Level: "suspicious"},
				},
			},
			{
				Type:  "domain",
				Value: "bad.example.com",
				Verdicts: []Verdict{
					{Analyzer: "UrlScan", Level: "malicious"},
				},
			},
		},
	}
}

func TestHash(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"simple string", "hello"},
		{"canonical case string", "case:~4152|tags:asset:server|observables:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash := Hash(tt.input)

			// SHA256 hash should be 64 hex characters
			if len(hash) != 64 {
				t.Errorf("Hash(%q) length = %d, want 64", tt.input, len(hash))
			}

			if hash != Hash(tt.input) {
				t.Errorf("Hash is not deterministic for %q", tt.input)
			}

			for _, c := range hash {
				if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
					t.Errorf("Hash contains non-hex character: %c", c)
				}
			}
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	first := Generate(sampleInput())
	second := Generate(sampleInput())

	if len(first) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(first))
	}
	if first != second {
		t.Errorf("same content produced different fingerprints: %s != %s", first, second)
	}
}

func TestGenerate_OrderInsensitive(t *testing.T) {
	base := Generate(sampleInput())

	// Shuffle tags
	shuffled := sampleInput()
	shuffled.Tags = []string{"sensitivity:confidential", "profile:business", "asset:server"}
	if got := Generate(shuffled); got != base {
		t.Error("tag order changed the fingerprint")
	}

	// Shuffle observables
	shuffled = sampleInput()
	shuffled.Observables[0], shuffled.Observables[1] = shuffled.Observables[1], shuffled.Observables[0]
	if got := Generate(shuffled); got != base {
		t.Error("observable order changed the fingerprint")
	}

	// Shuffle verdicts within an observable
	shuffled = sampleInput()
	vs := shuffled.Observables[0].Verdicts
	vs[0], vs[1] = vs[1], vs[0]
	if got := Generate(shuffled); got != base {
		t.Error("verdict order changed the fingerprint")
	}
}

func TestGenerate_CaseInsensitive(t *testing.T) {
	base := Generate(sampleInput())

	upper := sampleInput()
	upper.Tags[0] = "PROFILE:BUSINESS"
	upper.Observables[0].Verdicts[0].Analyzer = "ABUSEIPDB"

	if got := Generate(upper); got != base {
		t.Error("letter case changed the fingerprint")
	}
}

func TestGenerate_ContentSensitive(t *testing.T) {
	base := Generate(sampleInput())

	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"new verdict arrives", func(in *Input) {
			in.Observables[1].Verdicts = append(in.Observables[1].Verdicts,
				Verdict{Analyzer: "VirusTotal", Level: "malicious"})
		}},
		{"verdict level changes", func(in *Input) {
			in.Observables[0].Verdicts[1].Level = "malicious"
		}},
		{"tag changes", func(in *Input) {
			in.Tags[1] = "asset:database"
		}},
		{"title changes", func(in *Input) {
			in.Title = "Phishing campaign against payroll"
		}},
		{"observable added", func(in *Input) {
			in.Observables = append(in.Observables, Observable{Type: "url", Value: "http://x.test/a"})
		}},
		{"different case id", func(in *Input) {
			in.CaseID = "~4153"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleInput()
			tt.mutate(&in)
			if got := Generate(in); got == base {
				t.Error("changed content produced an unchanged fingerprint")
			}
		})
	}
}

func TestGenerate_Empty(t *testing.T) {
	got := Generate(Input{CaseID: "~1"})
	if len(got) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(got))
	}
	if got == Generate(Input{CaseID: "~2"}) {
		t.Error("different empty cases share a fingerprint")
	}
}

func TestFromRevision(t *testing.T) {
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	first := FromRevision("~4152", at)
	if len(first) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(first))
	}
	if first != FromRevision("~4152", at) {
		t.Error("same revision produced different fingerprints")
	}
	if first == FromRevision("~4152", at.Add(time.Millisecond)) {
		t.Error("later revision stamp produced an unchanged fingerprint")
	}
	if first == FromRevision("~9999", at) {
		t.Error("different cases share a revision fingerprint")
	}
}
