package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{ dropped uint64 }

func (f *fakeSource) AuditDropped() uint64 { return f.dropped }

func TestCollector_ReadsOnScrape(t *testing.T) {
	src := &fakeSource{}
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector("", src))

	src.dropped = 2
	expected := `
# HELP authcore_audit_dropped_total Audit events dropped because the dispatcher buffer was full.
# TYPE authcore_audit_dropped_total counter
authcore_audit_dropped_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "authcore_audit_dropped_total"))

	src.dropped = 5
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(strings.Replace(expected, "total 2", "total 5", 1)), "authcore_audit_dropped_total"))
}

func TestCollector_NilSource(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector("mf", nil))
	count, err := testutil.GatherAndCount(reg, "mf_audit_dropped_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
