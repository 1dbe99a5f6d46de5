package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/api/cases", "GET", "200"))
	RecordHTTPRequest("/api/cases", "GET", 200, 15*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/api/cases", "GET", "200"))
	assert.Equal(t, before+1, after)
}

func TestRecordCustodyVerification(t *testing.T) {
	okBefore := testutil.ToFloat64(CustodyVerificationsTotal.WithLabelValues("ok"))
	brokenBefore := testutil.ToFloat64(CustodyVerificationsTotal.WithLabelValues("broken"))

	RecordCustodyVerification(true)
	RecordCustodyVerification(false)
	RecordCustodyVerification(false)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(CustodyVerificationsTotal.WithLabelValues("ok")))
	assert.Equal(t, brokenBefore+2, testutil.ToFloat64(CustodyVerificationsTotal.WithLabelValues("broken")))
}

func TestRecordMerkleRebuild(t *testing.T) {
	RecordMerkleRebuild(7, nil)
	assert.Equal(t, float64(7), testutil.ToFloat64(MerkleLeaves))

	errBefore := testutil.ToFloat64(MerkleRebuildsTotal.WithLabelValues("error"))
	RecordMerkleRebuild(0, errors.New("db down"))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(MerkleRebuildsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(7), testutil.ToFloat64(MerkleLeaves), "failed rebuild keeps the last gauge value")
}
