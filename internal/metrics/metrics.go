package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ConnectedParticipants prometheus.Gauge
	PlaybackWrites        *prometheus.CounterVec
	Claims                *prometheus.CounterVec
	Elections             *prometheus.CounterVec
	PresenceEvictions     prometheus.Counter
	Lookups               *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ConnectedParticipants: f.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_connected_participants",
			Help: "Participants attached to this instance",
		}),
		PlaybackWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_playback_writes_total",
			Help: "Playback updates by result",
		}, []string{"result"}),
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_claims_total",
			Help: "File loads that tried to create the record or claim control, by result",
		}, []string{"result"}),
		Elections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_controller_elections_total",
			Help: "Controller arbitration outcomes",
		}, []string{"outcome"}),
		PresenceEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_presence_evictions_total",
			Help: "Participants evicted after missing heartbeats",
		}),
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_media_lookups_total",
			Help: "Media metadata lookups by result",
		}, []string{"result"}),
	}
}
