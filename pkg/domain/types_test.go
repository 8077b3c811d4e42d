package domain_test

import (
	"testing"

	"campaignkit/pkg/domain"
)

func TestParsePrivacyStatus(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want domain.PrivacyStatus
	}{
		{"optedin", "optedin", domain.PrivacyOptIn},
		{"optedout", "optedout", domain.PrivacyOptOut},
		{"optunknown", "optunknown", domain.PrivacyUnknown},
		// 未知值归为 Unknown
		{"empty string", "", domain.PrivacyUnknown},
		{"garbage value", "opted-in", domain.PrivacyUnknown},
		{"uppercase not recognized", "OPTEDIN", domain.PrivacyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.ParsePrivacyStatus(tt.in)
			if got != tt.want {
				t.Errorf("ParsePrivacyStatus(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
