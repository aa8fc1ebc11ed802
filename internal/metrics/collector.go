// Package metrics exposes a live snapshot of the fabric's per-object
// counters as Prometheus metrics: one gauge/counter family per NIO,
// ATM switch, and Frame-Relay switch currently held in the registry.
//
// Grounded on runZeroInc-sockstats/pkg/exporter/exporter.go's
// TCPInfoCollector: a custom prometheus.Collector that reads live state
// under a lock inside Collect rather than maintaining pre-registered
// gauges that would drift from the registry's actual membership as
// objects are created and deleted at runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GNS3/dynamips-fabric/internal/atmfab"
	"github.com/GNS3/dynamips-fabric/internal/frsw"
	"github.com/GNS3/dynamips-fabric/internal/nio"
	"github.com/GNS3/dynamips-fabric/internal/registry"
)

var (
	nioPktsDesc = prometheus.NewDesc(
		"fabric_nio_packets_total", "Packets processed by a NIO, by direction.",
		[]string{"nio", "direction"}, nil)
	nioBytesDesc = prometheus.NewDesc(
		"fabric_nio_bytes_total", "Bytes processed by a NIO, by direction.",
		[]string{"nio", "direction"}, nil)
	atmswCellDropDesc = prometheus.NewDesc(
		"fabric_atmsw_cell_drops_total", "Cells dropped by an ATM switch for lack of a matching VPC/VCC.",
		[]string{"atmsw"}, nil)
	frswDropDesc = prometheus.NewDesc(
		"fabric_frsw_frame_drops_total", "Frames dropped by a Frame-Relay switch for lack of a matching DLCI.",
		[]string{"frsw"}, nil)
)

// Collector implements prometheus.Collector over a live *registry.Registry,
// the fabric's own analogue of TCPInfoCollector's live net.Conn map.
type Collector struct {
	reg *registry.Registry
}

// New returns a Collector reading from reg.
func New(reg *registry.Registry) *Collector {
	return &Collector{reg: reg}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- nioPktsDesc
	descs <- nioBytesDesc
	descs <- atmswCellDropDesc
	descs <- frswDropDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reg.ForeachType(registry.TypeNIO, func(name string, data any) {
		s := data.(*nio.NIO).Stats()
		ch <- prometheus.MustNewConstMetric(nioPktsDesc, prometheus.CounterValue, float64(s.PktsIn), name, "rx")
		ch <- prometheus.MustNewConstMetric(nioPktsDesc, prometheus.CounterValue, float64(s.PktsOut), name, "tx")
		ch <- prometheus.MustNewConstMetric(nioBytesDesc, prometheus.CounterValue, float64(s.BytesIn), name, "rx")
		ch <- prometheus.MustNewConstMetric(nioBytesDesc, prometheus.CounterValue, float64(s.BytesOut), name, "tx")
	})

	c.reg.ForeachType(registry.TypeATMSwitch, func(name string, data any) {
		sw := data.(*atmfab.Switch)
		ch <- prometheus.MustNewConstMetric(atmswCellDropDesc, prometheus.CounterValue, float64(sw.CellDrop()), name)
	})

	c.reg.ForeachType(registry.TypeFRSwitch, func(name string, data any) {
		sw := data.(*frsw.Switch)
		ch <- prometheus.MustNewConstMetric(frswDropDesc, prometheus.CounterValue, float64(sw.Drop()), name)
	})
}
