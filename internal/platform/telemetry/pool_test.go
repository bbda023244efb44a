package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterPoolGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	current := PoolGauges{Total: 4, Idle: 3, Acquired: 1, Max: 20}
	if err := RegisterPoolGauges(reg, func() PoolGauges { return current }); err != nil {
		t.Fatalf("register: %v", err)
	}

	want := `
# HELP scheduler_db_pool_acquired_conns Connections in use.
# TYPE scheduler_db_pool_acquired_conns gauge
scheduler_db_pool_acquired_conns 1
# HELP scheduler_db_pool_idle_conns Idle connections.
# TYPE scheduler_db_pool_idle_conns gauge
scheduler_db_pool_idle_conns 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"scheduler_db_pool_acquired_conns", "scheduler_db_pool_idle_conns"); err != nil {
		t.Fatal(err)
	}

	current.Acquired = 7
	n, err := testutil.GatherAndCount(reg, "scheduler_db_pool_max_conns")
	if err != nil || n != 1 {
		t.Errorf("expected one max_conns series, got %d (%v)", n, err)
	}
	want = `
# HELP scheduler_db_pool_acquired_conns Connections in use.
# TYPE scheduler_db_pool_acquired_conns gauge
scheduler_db_pool_acquired_conns 7
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "scheduler_db_pool_acquired_conns"); err != nil {
		t.Errorf("expected gauge to follow the sample: %v", err)
	}
}

func TestRegisterPoolGauges_Twice(t *testing.T) {
	reg := prometheus.NewRegistry()
	sample := func() PoolGauges { return PoolGauges{} }
	if err := RegisterPoolGauges(reg, sample); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterPoolGauges(reg, sample); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
