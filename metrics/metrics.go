// Package metrics publishes darc's Prometheus counters/gauges (queue
// depth, fetch outcomes, proxy bootstrap state) plus a background
// disk-iostat sampler, on a periodic refresh loop backed by
// github.com/prometheus/client_golang instead of a bespoke StatsD
// tracker.
/*
 * Copyright (c) 2018-2026, darc project contributors. All rights reserved.
 */
package metrics

import (
	"time"

	"github.com/golang/glog"
	"github.com/lufia/iostat"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// QueueDepth tracks the number of entries claimed from a queue on its
	// most recent tick, labeled by queue name (hostname/requests/selenium).
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "darc",
		Name:      "queue_depth",
		Help:      "Entries claimed from a Work Store queue on its most recent tick.",
	}, []string{"queue"})

	// FetchOutcomes counts terminal fetch attempts labeled by cmn.Kind.
	FetchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "darc",
		Name:      "fetch_outcomes_total",
		Help:      "Fetch attempts by terminal outcome kind.",
	}, []string{"kind"})

	// BootstrapState publishes the Proxy Supervisor state machine value
	// (0=idle 1=bootstrapping 2=ready 3=failed 4=stopping) per proxy kind.
	BootstrapState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "darc",
		Name:      "proxy_bootstrap_state",
		Help:      "Proxy Supervisor state machine value, per proxy kind.",
	}, []string{"proxy_kind"})

	diskReadBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "darc",
		Name:      "disk_read_bytes_total",
		Help:      "Cumulative bytes read per device, from iostat.",
	}, []string{"device"})

	diskWriteBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "darc",
		Name:      "disk_write_bytes_total",
		Help:      "Cumulative bytes written per device, from iostat.",
	}, []string{"device"})
)

func init() {
	prometheus.MustRegister(QueueDepth, FetchOutcomes, BootstrapState, diskReadBytes, diskWriteBytes)
}

// SetQueueDepth records the most recent claim size for queue.
func SetQueueDepth(queue string, n int) { QueueDepth.WithLabelValues(queue).Set(float64(n)) }

// ObserveFetchOutcome increments the outcome counter for kind.
func ObserveFetchOutcome(kind string) { FetchOutcomes.WithLabelValues(kind).Inc() }

// SetBootstrapState records state for proxyKind.
func SetBootstrapState(proxyKind string, state int) {
	BootstrapState.WithLabelValues(proxyKind).Set(float64(state))
}

const defaultRefresh = 30 * time.Second

// DiskSampler is a cmn.Runner that periodically samples per-device disk
// iostat counters and publishes them as gauges.
type DiskSampler struct {
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewDiskSampler() *DiskSampler {
	return &DiskSampler{interval: defaultRefresh, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

func (d *DiskSampler) Name() string { return "metrics-disk-sampler" }

func (d *DiskSampler) Run() error {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return nil
		case <-ticker.C:
			d.sample()
		}
	}
}

func (d *DiskSampler) sample() {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		glog.V(2).Infof("metrics: reading iostat: %v", err)
		return
	}
	for _, dr := range drives {
		diskReadBytes.WithLabelValues(dr.Name).Set(float64(dr.BytesRead))
		diskWriteBytes.WithLabelValues(dr.Name).Set(float64(dr.BytesWritten))
	}
}

func (d *DiskSampler) Stop(error) {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	select {
	case <-d.doneCh:
	case <-time.After(5 * time.Second):
	}
}

