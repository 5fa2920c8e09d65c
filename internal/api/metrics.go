package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/panelsync/internal/panel"
)

// SystemMetrics is the /metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Brokers       BrokerMetrics  `json:"brokers"`
	Panels        PanelMetrics   `json:"panels"`
	Slots         SlotMetrics    `json:"slots"`
	Devices       DeviceMetrics  `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains websocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// BrokerMetrics reports connectivity per broker id.
type BrokerMetrics struct {
	Default   string          `json:"default"`
	Connected map[string]bool `json:"connected"`
}

// PanelMetrics counts panels and how their connectors are used.
type PanelMetrics struct {
	Total       int            `json:"total"`
	ByConnector map[string]int `json:"by_connector"`
}

// SlotMetrics counts configured (named) slots.
type SlotMetrics struct {
	Buttons  int `json:"buttons"`
	Displays int `json:"displays"`
}

// DeviceMetrics counts hub devices by class.
type DeviceMetrics struct {
	Total   int            `json:"total"`
	ByClass map[string]int `json:"by_class"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := s.now()
	m := SystemMetrics{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(mem.TotalAlloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.ws.ClientCount()},
		Brokers: BrokerMetrics{
			Default:   s.brokers.DefaultBroker(),
			Connected: make(map[string]bool),
		},
		Panels:  PanelMetrics{ByConnector: make(map[string]int)},
		Devices: DeviceMetrics{ByClass: make(map[string]int)},
	}

	for _, b := range s.brokers.Brokers() {
		m.Brokers.Connected[b.ID] = s.brokers.Connected(b.ID)
	}

	for _, p := range s.panels.List() {
		m.Panels.Total++
		for _, c := range p.Connectors {
			if c.Type == panel.ConnectorUnconfigured {
				continue
			}
			m.Panels.ByConnector[string(c.Type)]++
		}
	}

	for _, b := range s.slots.ButtonSlots() {
		if b.Name != "" {
			m.Slots.Buttons++
		}
	}
	for _, d := range s.slots.DisplaySlots() {
		if d.Name != "" {
			m.Slots.Displays++
		}
	}

	for _, d := range s.hub.ListDevices(r.Context()) {
		m.Devices.Total++
		class := d.Class
		if class == "" {
			class = "other"
		}
		m.Devices.ByClass[class]++
	}

	writeJSON(w, http.StatusOK, m)
}
