package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "clearfund/pkg/domain"
)

func marshalToMap(t *testing.T, r *Report) map[string]any {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func TestReportJSONCarriesDerivedExpiry(t *testing.T) {
	r := &Report{
		ID:           id.NewReportID(),
		CaseID:       id.NewCaseID(),
		ReportNumber: "CF-20260101-ABCDEF",
	}

	body := marshalToMap(t, r)
	assert.Equal(t, false, body["is_expired"], "no expiry set")
	assert.Equal(t, "CF-20260101-ABCDEF", body["report_number"])

	future := time.Now().UTC().Add(time.Hour)
	r.ExpiresAt = &future
	assert.Equal(t, false, marshalToMap(t, r)["is_expired"])

	past := time.Now().UTC().Add(-time.Hour)
	r.ExpiresAt = &past
	assert.Equal(t, true, marshalToMap(t, r)["is_expired"])
}
