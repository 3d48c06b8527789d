package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_scans_total",
		Help: "QR scan attempts by outcome.",
	}, []string{"outcome"})

	confirmsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_confirms_total",
		Help: "Check-in confirmations by outcome.",
	}, []string{"outcome"})

	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})
)
