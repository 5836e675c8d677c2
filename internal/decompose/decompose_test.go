package decompose

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantline/internal/domain"
	"grantline/internal/schedule"
)

func loiRow() schedule.Row {
	return schedule.Row{
		TaskID:   "DOBBFD-LOI-1",
		OrgKey:   "BN0002E1",
		OrgName:  "Dobbs Foundation",
		Owner:    "Jane Doe",
		Type:     "LOI",
		Status:   "3. LOI Submitted",
		Deadline: "2024-08-30",
		Amount:   "100000.00",
	}
}

func TestDecomposeLOI(t *testing.T) {
	bp, err := Decompose(loiRow())
	require.NoError(t, err)

	require.NotNil(t, bp.Org)
	assert.Equal(t, "BN0002E1", bp.Org.NaturalKey)
	assert.Equal(t, "Dobbs Foundation", bp.Org.DisplayName)

	require.NotNil(t, bp.Person)
	assert.Equal(t, "Jane Doe", bp.Person.DisplayName)

	core := bp.Task.Core
	assert.Equal(t, "DOBBFD-LOI-1", core.TaskID)
	assert.Equal(t, domain.TypeLOI, core.Type)
	assert.Equal(t, "3. LOI Submitted", core.StatusText)
	assert.Equal(t, time.Date(2024, 8, 30, 0, 0, 0, 0, time.UTC), core.Deadline)

	require.NotNil(t, bp.Task.Fields.AmountRequested)
	assert.True(t, decimal.RequireFromString("100000.00").Equal(*bp.Task.Fields.AmountRequested))
}

func TestDecomposeIsDeterministic(t *testing.T) {
	a, err := Decompose(loiRow())
	require.NoError(t, err)
	b, err := Decompose(loiRow())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecomposeUnknownType(t *testing.T) {
	row := loiRow()
	row.Type = "Amendment"
	_, err := Decompose(row)
	var unknownErr *UnknownTaskTypeError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "Amendment", unknownErr.Discriminator)
}

func TestDecomposeTypeIsCaseSensitive(t *testing.T) {
	row := loiRow()
	row.Type = "loi"
	_, err := Decompose(row)
	var unknownErr *UnknownTaskTypeError
	require.ErrorAs(t, err, &unknownErr)
}

func TestDecomposeMissingIdentity(t *testing.T) {
	row := loiRow()
	row.TaskID = "  "
	_, err := Decompose(row)
	var missingErr *MissingIdentityError
	require.ErrorAs(t, err, &missingErr)
}

func TestDecomposeReportAliases(t *testing.T) {
	for _, raw := range []string{"Report", "Final Report", "Interim Report"} {
		row := loiRow()
		row.Type = raw
		bp, err := Decompose(row)
		require.NoError(t, err, raw)
		assert.Equal(t, domain.TypeReport, bp.Task.Core.Type)
		assert.Equal(t, raw, bp.Task.Fields.ReportType)
	}
}

func TestDecomposeAbsentFieldsStayAbsent(t *testing.T) {
	row := schedule.Row{
		TaskID: "T-1",
		Type:   "Proposal",
		OrgKey: "BN000001",
		Amount: "not-a-number",
		Award:  "",
	}
	bp, err := Decompose(row)
	require.NoError(t, err)
	assert.Nil(t, bp.Task.Fields.AmountRequested, "malformed amount must stay absent, not default")
	assert.Nil(t, bp.Task.Fields.AwardAmount)
	assert.True(t, bp.Task.Core.Deadline.IsZero())
	require.NotNil(t, bp.Org)
	assert.Empty(t, bp.Org.DisplayName)
}

func TestDecomposeNoOrgNoOwner(t *testing.T) {
	row := schedule.Row{TaskID: "T-2", Type: "Reminder"}
	bp, err := Decompose(row)
	require.NoError(t, err)
	assert.Nil(t, bp.Org)
	assert.Nil(t, bp.Person)
}

func TestDecomposeProposalFields(t *testing.T) {
	row := schedule.Row{
		TaskID:         "P-1",
		Type:           "Proposal",
		OrgKey:         "BN000002",
		Amount:         "50000",
		Award:          "45000",
		GrantStartDate: "2025-01-01",
		GrantEndDate:   "2025-12-31",
		Deadline:       "2024-11-01",
		GrantGoals:     "expand the program",
	}
	bp, err := Decompose(row)
	require.NoError(t, err)
	f := bp.Task.Fields
	require.NotNil(t, f.AmountRequested)
	require.NotNil(t, f.AwardAmount)
	require.NotNil(t, f.GrantStartDate)
	require.NotNil(t, f.GrantEndDate)
	assert.Equal(t, "expand the program", f.GrantGoals)
	// money never reaches a reminder-shaped bag
	assert.Empty(t, f.ReminderNote)
}

func TestParseHelpers(t *testing.T) {
	assert.Nil(t, parseDate(""))
	assert.Nil(t, parseDate("08/30/2024"))
	require.NotNil(t, parseDate(" 2024-08-30 "))

	assert.Nil(t, parseAmount(""))
	assert.Nil(t, parseAmount("one hundred"))
	d := parseAmount("100000.0")
	require.NotNil(t, d)
	assert.True(t, d.Equal(decimal.NewFromInt(100000)))
}
