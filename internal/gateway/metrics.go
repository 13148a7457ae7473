package gateway

import "github.com/prometheus/client_golang/prometheus"

var gatewayConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "gateway",
	Name:      "connections",
	Help:      "Active websocket connections per owner.",
}, []string{"owner"})

func init() {
	prometheus.MustRegister(gatewayConnections)
}
