package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTaskType(t *testing.T) {
	cases := map[string]TaskType{
		"LOI":            TypeLOI,
		"Proposal":       TypeProposal,
		"Report":         TypeReport,
		"Final Report":   TypeReport,
		"Interim Report": TypeReport,
		"Reminder":       TypeReminder,
		"Prospect":       TypeProspect,
	}
	for raw, want := range cases {
		got, ok := ParseTaskType(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got)
	}
	for _, raw := range []string{"", "loi", "PROPOSAL", "Amendment", "report"} {
		_, ok := ParseTaskType(raw)
		assert.False(t, ok, raw)
	}
}

func TestValidOrgKey(t *testing.T) {
	assert.True(t, ValidOrgKey("BN0002E1"))
	assert.True(t, ValidOrgKey("BNABCDEF"))
	assert.False(t, ValidOrgKey("bn0002e1"))
	assert.False(t, ValidOrgKey("BN0002E"))
	assert.False(t, ValidOrgKey("BN0002E1X"))
	assert.False(t, ValidOrgKey("XX0002E1"))
	assert.False(t, ValidOrgKey(""))
}
