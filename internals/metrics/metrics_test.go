package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordStateTransitionMarksOneState(t *testing.T) {
	RecordStateTransition("idle", "connecting")
	RecordStateTransition("connecting", "waiting")

	assert.Equal(t, 1.0, testutil.ToFloat64(ConnectionState.WithLabelValues("waiting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ConnectionState.WithLabelValues("connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ConnectionState.WithLabelValues("idle")))
}

func TestRecordResults(t *testing.T) {
	before := testutil.ToFloat64(DeviceSwitchesTotal.WithLabelValues("camera", "failed"))
	RecordSwitch("camera", errors.New("gone"))
	assert.Equal(t, before+1, testutil.ToFloat64(DeviceSwitchesTotal.WithLabelValues("camera", "failed")))

	before = testutil.ToFloat64(ReconnectOutcomesTotal.WithLabelValues("exhausted"))
	RecordReconnectOutcome(false)
	assert.Equal(t, before+1, testutil.ToFloat64(ReconnectOutcomesTotal.WithLabelValues("exhausted")))

	before = testutil.ToFloat64(CredentialFetchesTotal.WithLabelValues("POST", "ok"))
	RecordCredentialFetch("POST", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(CredentialFetchesTotal.WithLabelValues("POST", "ok")))
}
