package audio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quietwire_playback_transitions_total",
		Help: "Playback state transitions applied by the audio aggregator.",
	}, []string{"state"})
	fetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quietwire_asset_fetch_failures_total",
		Help: "Audio asset fetches that failed for the active track.",
	})
	staleResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quietwire_stale_playback_results_total",
		Help: "Fetch or completion results dropped because their session was superseded.",
	})
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quietwire_audio_state_subscribers",
		Help: "Current number of audio state subscribers.",
	})
)
