// Command fabricd is the fabric's process entrypoint: it starts the
// hypervisor command surface and a Prometheus metrics endpoint over one
// shared object registry, the Go analogue of the original's single
// long-running process that calls hypervisor_tcp_server after every
// *_init() has registered its module, grounded on the teacher's own
// cmd/minimega -> src/rond flag/log/server wiring shape.
package main

import (
	"flag"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GNS3/dynamips-fabric/internal/hv"
	"github.com/GNS3/dynamips-fabric/internal/hv/cfgfile"
	"github.com/GNS3/dynamips-fabric/internal/metrics"
	"github.com/GNS3/dynamips-fabric/internal/registry"
	log "github.com/GNS3/dynamips-fabric/pkg/minilog"
)

var (
	fHypervisorAddr = flag.String("hv", "127.0.0.1:7200", "address for the hypervisor TCP command surface")
	fMetricsAddr    = flag.String("metrics", "127.0.0.1:9200", "address for the Prometheus /metrics endpoint")
	fAtmswConfig    = flag.String("atmsw-config", "", "start a \"default\" ATM switch from this config file")
	fAtmbrConfig    = flag.String("atmbr-config", "", "start a \"default\" ATM bridge from this config file")
)

func main() {
	flag.Parse()
	log.Init()

	reg := registry.New()

	hvServer := hv.NewServer()
	hvServer.RegisterModule(hv.NewNioModule(reg))
	hvServer.RegisterModule(hv.NewAtmswModule(reg))
	hvServer.RegisterModule(hv.NewAtmBridgeModule(reg))
	hvServer.RegisterModule(hv.NewFrswModule(reg))
	hvServer.RegisterModule(hv.NewNioBridgeModule(reg))

	if *fAtmswConfig != "" {
		if err := cfgfile.StartATMSwitch(reg, "default", *fAtmswConfig); err != nil {
			log.Fatal("fabricd: loading ATM switch config: %v", err)
		}
	}
	if *fAtmbrConfig != "" {
		if err := cfgfile.StartATMBridge(reg, "default", *fAtmbrConfig); err != nil {
			log.Fatal("fabricd: loading ATM bridge config: %v", err)
		}
	}

	reg2 := prometheus.NewRegistry()
	reg2.MustRegister(metrics.New(reg))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg2, promhttp.HandlerOpts{}))
		log.Info("fabricd: metrics listening on %s", *fMetricsAddr)
		if err := http.ListenAndServe(*fMetricsAddr, mux); err != nil {
			log.Fatal("fabricd: metrics server: %v", err)
		}
	}()

	log.Info("fabricd: hypervisor listening on %s", *fHypervisorAddr)
	if err := hvServer.ListenAndServe(*fHypervisorAddr); err != nil {
		log.Fatal("fabricd: hypervisor server: %v", err)
	}
}
