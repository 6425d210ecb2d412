package report

import (
	"github.com/soclabs/caserisk/pkg/profile"
	"github.com/soclabs/caserisk/pkg/risk"
)

// Actions maps (profile kind, severity) to the recommended actions shown
// on a report. The table is configuration; analysts tune it per tenant.
type Actions map[profile.Kind]map[risk.Severity][]string

// For returns the actions for a kind and severity. The returned slice is
// a copy; callers may append to it.
func (a Actions) For(kind profile.Kind, severity risk.Severity) []string {
	byKind, ok := a[kind]
	if !ok {
		return nil
	}
	actions, ok := byKind[severity]
	if !ok {
		return nil
	}
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}

// DefaultActions returns the built-in recommended-actions table.
func DefaultActions() Actions {
	return Actions{
		profile.Business: {
			risk.SeverityCritical: {
				"Isolate affected systems from the network",
				"Engage incident response on-call immediately",
				"Rotate credentials for every account touching the asset",
				"Preserve forensic images before remediation",
			},
			risk.SeverityHigh: {
				"Contain within the current shift",
				"Rotate credentials for exposed service accounts",
				"Review egress logs for signs of data staging",
			},
			risk.SeverityMedium: {
				"Schedule remediation within the week",
				"Verify backup integrity for the affected asset",
			},
			risk.SeverityLow: {
				"Track in the backlog and fix within the normal patch cycle",
			},
			risk.SeverityInfo: {
				"No action required; monitor for new analyzer verdicts",
			},
		},
		profile.Consumer: {
			risk.SeverityCritical: {
				"Freeze credit with all three bureaus",
				"Notify the affected individual within 24 hours",
				"File an identity theft report",
				"Reset passwords and revoke active sessions",
			},
			risk.SeverityHigh: {
				"Notify the affected individual",
				"Place fraud alerts with credit bureaus",
				"Reset passwords and revoke active sessions",
			},
			risk.SeverityMedium: {
				"Advise password rotation and MFA enrollment",
				"Monitor account statements for 90 days",
			},
			risk.SeverityLow: {
				"Send a precautionary notice",
			},
			risk.SeverityInfo: {
				"No action required; monitor for new analyzer verdicts",
			},
		},
	}
}
