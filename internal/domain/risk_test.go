package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  string
	}{
		{"zero", 0, RiskLow},
		{"just below medium", 0.3999, RiskLow},
		{"exactly medium threshold", 0.40, RiskMedium},
		{"mid band", 0.55, RiskMedium},
		{"just below high", 0.6999, RiskMedium},
		{"exactly high threshold", 0.70, RiskHigh},
		{"maximum", 1.0, RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RiskLevel(tt.score))
		})
	}
}
