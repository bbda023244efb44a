package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolGauges is a point-in-time view of the database connection pool.
type PoolGauges struct {
	Total    int32
	Idle     int32
	Acquired int32
	Max      int32
}

// RegisterPoolGauges exposes pool occupancy, sampled on every scrape.
func RegisterPoolGauges(reg prometheus.Registerer, sample func() PoolGauges) error {
	gauge := func(name, help string, pick func(PoolGauges) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "scheduler",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(sample())) })
	}

	for _, c := range []prometheus.Collector{
		gauge("total_conns", "Open connections.", func(p PoolGauges) int32 { return p.Total }),
		gauge("idle_conns", "Idle connections.", func(p PoolGauges) int32 { return p.Idle }),
		gauge("acquired_conns", "Connections in use.", func(p PoolGauges) int32 { return p.Acquired }),
		gauge("max_conns", "Configured pool size.", func(p PoolGauges) int32 { return p.Max }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
