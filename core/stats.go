package core

import "sync/atomic"

// BridgeStats counts bridge activity. Updated from the transfer path with
// plain atomic adds; read by the get_stats diagnostics command.
type BridgeStats struct {
	Requests        uint32 // REQUEST assertions serviced
	BytesToHost     uint32 // bytes clocked device -> host
	BytesFromHost   uint32 // bytes clocked host -> device
	Aborts          uint32 // transfers ended by REQUEST deassert mid-phase
	ExtendedHeaders uint32 // two-byte headers decoded
	ControlCommands uint32 // control commands executed (including ignored)
	SPIErrors       uint32 // exchanges aborted on SPI failure
	CardEvents      uint32 // debounced presence changes signaled
}

var stats BridgeStats

func statAdd(p *uint32, n uint32) {
	atomic.AddUint32(p, n)
}

// StatsSnapshot returns a copy of the counters.
func StatsSnapshot() BridgeStats {
	return BridgeStats{
		Requests:        atomic.LoadUint32(&stats.Requests),
		BytesToHost:     atomic.LoadUint32(&stats.BytesToHost),
		BytesFromHost:   atomic.LoadUint32(&stats.BytesFromHost),
		Aborts:          atomic.LoadUint32(&stats.Aborts),
		ExtendedHeaders: atomic.LoadUint32(&stats.ExtendedHeaders),
		ControlCommands: atomic.LoadUint32(&stats.ControlCommands),
		SPIErrors:       atomic.LoadUint32(&stats.SPIErrors),
		CardEvents:      atomic.LoadUint32(&stats.CardEvents),
	}
}

// ResetStats zeroes the counters (test and diagnostics use).
func ResetStats() {
	stats = BridgeStats{}
}
