package validation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructValid(t *testing.T) {
	req := models.CreateCaseRequest{CaseNumber: "CASE-2025-0001", Title: "Phishing ring"}
	assert.NoError(t, Struct(&req))
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(&models.CreateCaseRequest{Priority: "urgent"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	fields, ok := ae.Details["fields"].([]FieldError)
	require.True(t, ok)

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	assert.ElementsMatch(t, []string{"caseNumber", "title", "priority"}, names)
	assert.Contains(t, ae.Message, "caseNumber is required")
	assert.Contains(t, ae.Message, "priority must be one of: low medium high critical")
}

func TestStructCollectedAtRange(t *testing.T) {
	at := func(ts time.Time) *models.CreateEvidenceRequest {
		return &models.CreateEvidenceRequest{CaseID: "c1", EvidenceNumber: "EV-1", Type: "disk", FileName: "a.img", CollectedAt: &ts}
	}
	assert.NoError(t, Struct(at(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))))
	assert.NoError(t, Struct(at(MaxStorableTime)))
	assert.NoError(t, Struct(at(MinStorableTime)))

	for _, ts := range []time.Time{
		time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		err := Struct(at(ts))
		require.ErrorIs(t, err, apperr.ErrInvalidInput, ts.String())
		assert.Contains(t, err.Error(), "collectedAt is outside the supported date range")
	}
}

func TestStructStatusTransition(t *testing.T) {
	assert.NoError(t, Struct(&models.UpdateCaseStatusRequest{Status: models.StatusArchived}))
	assert.ErrorIs(t, Struct(&models.UpdateCaseStatusRequest{Status: "reopened"}), apperr.ErrInvalidInput)
	assert.ErrorIs(t, Struct(&models.UpdateCaseStatusRequest{}), apperr.ErrInvalidInput)
}

func TestStructAnalysis(t *testing.T) {
	conf := func(v int) *int { return &v }
	base := models.CreateAnalysisRequest{
		CaseID:       "c1",
		ModuleType:   "image",
		AnalysisType: "ela",
		Results:      json.RawMessage(`{"tampered":false}`),
	}

	tests := []struct {
		name   string
		mutate func(r *models.CreateAnalysisRequest)
		field  string
	}{
		{"valid", func(r *models.CreateAnalysisRequest) {}, ""},
		{"confidence bounds ok", func(r *models.CreateAnalysisRequest) { r.Confidence = conf(100) }, ""},
		{"confidence too high", func(r *models.CreateAnalysisRequest) { r.Confidence = conf(101) }, "confidence"},
		{"confidence negative", func(r *models.CreateAnalysisRequest) { r.Confidence = conf(-1) }, "confidence"},
		{"results missing", func(r *models.CreateAnalysisRequest) { r.Results = nil }, "results"},
		{"results null", func(r *models.CreateAnalysisRequest) { r.Results = json.RawMessage(`null`) }, "results"},
		{"results malformed", func(r *models.CreateAnalysisRequest) { r.Results = json.RawMessage(`{"a":`) }, "results"},
		{"results scalar", func(r *models.CreateAnalysisRequest) { r.Results = json.RawMessage(`42`) }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			err := Struct(&req)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ae *apperr.Error
			require.ErrorAs(t, err, &ae)
			fields := ae.Details["fields"].([]FieldError)
			require.Len(t, fields, 1)
			assert.Equal(t, tt.field, fields[0].Field)
		})
	}
}

func TestStringLengthMessage(t *testing.T) {
	long := make([]byte, 51)
	for i := range long {
		long[i] = 'x'
	}
	err := Struct(&models.CreateCaseRequest{CaseNumber: string(long), Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "caseNumber must be at most 50 characters")
}
