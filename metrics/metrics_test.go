package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth("requests", 7)
	got := testutil.ToFloat64(QueueDepth.WithLabelValues("requests"))
	if got != 7 {
		t.Fatalf("got %v, want 7", got)
	}
}

func TestObserveFetchOutcome(t *testing.T) {
	before := testutil.ToFloat64(FetchOutcomes.WithLabelValues("ok"))
	ObserveFetchOutcome("ok")
	after := testutil.ToFloat64(FetchOutcomes.WithLabelValues("ok"))
	if after != before+1 {
		t.Fatalf("got %v, want %v", after, before+1)
	}
}

func TestSetBootstrapState(t *testing.T) {
	SetBootstrapState("tor", 2)
	got := testutil.ToFloat64(BootstrapState.WithLabelValues("tor"))
	if got != 2 {
		t.Fatalf("got %v, want 2", got)
	}
}
