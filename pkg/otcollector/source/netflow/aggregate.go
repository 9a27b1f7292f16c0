package netflow

import "github.com/otsense/otcollector/models"

type flowKey struct {
	src      string
	srcPort  uint16
	dst      string
	dstPort  uint16
	protocol uint8
}

// Aggregate merges flows sharing (srcAddr:srcPort, dstAddr:dstPort, protocol):
// bytes and packets are summed, the [start,end] window is widened to the
// min/max observed and TCP flags are OR-combined. First-seen order of keys is
// preserved so output is deterministic.
func Aggregate(flows []models.NetFlowRecord) []models.NetFlowRecord {
	merged := make(map[flowKey]*models.NetFlowRecord, len(flows))
	order := make([]flowKey, 0, len(flows))

	for _, f := range flows {
		key := flowKey{
			src: f.SrcAddress, srcPort: f.SrcPort,
			dst: f.DstAddress, dstPort: f.DstPort,
			protocol: f.Protocol,
		}
		agg, ok := merged[key]
		if !ok {
			copied := f
			merged[key] = &copied
			order = append(order, key)
			continue
		}
		agg.Bytes += f.Bytes
		agg.Packets += f.Packets
		if f.StartTime < agg.StartTime {
			agg.StartTime = f.StartTime
		}
		if f.EndTime > agg.EndTime {
			agg.EndTime = f.EndTime
		}
		agg.TCPFlags |= f.TCPFlags
	}

	out := make([]models.NetFlowRecord, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	return out
}
