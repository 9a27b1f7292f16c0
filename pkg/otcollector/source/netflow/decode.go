package netflow

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/otsense/otcollector/models"
	"github.com/otsense/otcollector/pkg/otcollector/netutil"
)

// All NetFlow integers are big-endian.

const (
	v5HeaderLen = 24
	v5RecordLen = 48
	v9HeaderLen = 20
)

// v9 field type codes.
const (
	fieldInBytes       = 1
	fieldInPkts        = 2
	fieldProtocol      = 4
	fieldTOS           = 5
	fieldTCPFlags      = 6
	fieldL4SrcPort     = 7
	fieldSrcAddr       = 8
	fieldL4DstPort     = 11
	fieldDstAddr       = 12
	fieldLastSwitched  = 21
	fieldFirstSwitched = 22
)

// decoder turns raw datagrams into normalized flow records. It owns the
// template cache; both template writes and data reads happen on the listener
// task.
type decoder struct {
	templates *TemplateCache
	logger    *slog.Logger
}

func newDecoder(logger *slog.Logger) *decoder {
	return &decoder{templates: NewTemplateCache(), logger: logger}
}

// decode dispatches one datagram by version. A malformed frame is a
// ParseError for the whole datagram; an unresolvable data flowset only drops
// that flowset.
func (d *decoder) decode(data []byte, exporter string) ([]models.NetFlowRecord, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("netflow: datagram too short: %d bytes", len(data))
	}
	switch version := binary.BigEndian.Uint16(data[0:2]); version {
	case 5:
		return d.decodeV5(data)
	case 9:
		return d.decodeV9(data, exporter)
	default:
		return nil, fmt.Errorf("netflow: unsupported version %d", version)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// v5
// ─────────────────────────────────────────────────────────────────────────────

// decodeV5 parses the fixed 24-byte header and count 48-byte records.
// Flow timestamps come from the router uptime delta:
// baseTime - (sysUptime - fieldUptime), with baseTime = unixSecs in ms.
func (d *decoder) decodeV5(data []byte) ([]models.NetFlowRecord, error) {
	if len(data) < v5HeaderLen {
		return nil, fmt.Errorf("netflow: v5 header truncated: %d bytes", len(data))
	}
	count := int(binary.BigEndian.Uint16(data[2:4]))
	sysUptime := int64(binary.BigEndian.Uint32(data[4:8]))
	unixSecs := int64(binary.BigEndian.Uint32(data[8:12]))
	baseTime := unixSecs * 1000

	if len(data) < v5HeaderLen+count*v5RecordLen {
		return nil, fmt.Errorf("netflow: v5 datagram truncated: %d records in %d bytes", count, len(data))
	}

	records := make([]models.NetFlowRecord, 0, count)
	for i := 0; i < count; i++ {
		r := data[v5HeaderLen+i*v5RecordLen:]
		first := int64(binary.BigEndian.Uint32(r[24:28]))
		last := int64(binary.BigEndian.Uint32(r[28:32]))
		records = append(records, models.NetFlowRecord{
			SrcAddress: netutil.FormatIPv4(binary.BigEndian.Uint32(r[0:4])),
			DstAddress: netutil.FormatIPv4(binary.BigEndian.Uint32(r[4:8])),
			Packets:    uint64(binary.BigEndian.Uint32(r[16:20])),
			Bytes:      uint64(binary.BigEndian.Uint32(r[20:24])),
			StartTime:  baseTime - (sysUptime - first),
			EndTime:    baseTime - (sysUptime - last),
			SrcPort:    binary.BigEndian.Uint16(r[32:34]),
			DstPort:    binary.BigEndian.Uint16(r[34:36]),
			TCPFlags:   r[37],
			Protocol:   r[38],
			TOS:        r[39],
		})
	}
	return records, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// v9
// ─────────────────────────────────────────────────────────────────────────────

// decodeV9 walks the flowset sequence after the 20-byte header. Template
// flowsets (id 0) populate the cache, options templates (id 1) are ignored,
// data flowsets (id ≥ 256) decode against a cached template or are dropped.
func (d *decoder) decodeV9(data []byte, exporter string) ([]models.NetFlowRecord, error) {
	if len(data) < v9HeaderLen {
		return nil, fmt.Errorf("netflow: v9 header truncated: %d bytes", len(data))
	}
	sysUptime := int64(binary.BigEndian.Uint32(data[4:8]))
	unixSecs := int64(binary.BigEndian.Uint32(data[8:12]))
	baseTime := unixSecs * 1000

	var records []models.NetFlowRecord
	offset := v9HeaderLen
	for offset+4 <= len(data) {
		flowsetID := binary.BigEndian.Uint16(data[offset : offset+2])
		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		if length < 4 || offset+length > len(data) {
			return records, fmt.Errorf("netflow: v9 flowset %d has invalid length %d", flowsetID, length)
		}
		body := data[offset+4 : offset+length]

		switch {
		case flowsetID == 0:
			d.parseTemplates(body, exporter)
		case flowsetID == 1:
			// Options templates are acknowledged and ignored.
		case flowsetID >= 256:
			tmpl, ok := d.templates.Get(exporter, flowsetID)
			if !ok {
				d.logger.Debug("data flowset without template, dropping",
					"exporter", exporter, "template_id", flowsetID)
				break
			}
			records = append(records, d.parseData(body, tmpl, baseTime, sysUptime)...)
		}
		offset += length
	}
	return records, nil
}

// parseTemplates parses (templateId, fieldCount, (type,length)*) entries.
func (d *decoder) parseTemplates(body []byte, exporter string) {
	offset := 0
	for offset+4 <= len(body) {
		id := binary.BigEndian.Uint16(body[offset : offset+2])
		fieldCount := int(binary.BigEndian.Uint16(body[offset+2 : offset+4]))
		offset += 4
		if offset+fieldCount*4 > len(body) {
			return
		}
		tmpl := Template{ID: id, Fields: make([]TemplateField, 0, fieldCount)}
		for i := 0; i < fieldCount; i++ {
			tmpl.Fields = append(tmpl.Fields, TemplateField{
				Type:   binary.BigEndian.Uint16(body[offset : offset+2]),
				Length: binary.BigEndian.Uint16(body[offset+2 : offset+4]),
			})
			offset += 4
		}
		d.templates.Put(exporter, tmpl)
		d.logger.Debug("template cached",
			"exporter", exporter, "template_id", id, "fields", fieldCount)
	}
}

// parseData decodes fixed-size records by walking the template's ordered
// field list. Unknown field types advance by their declared length.
func (d *decoder) parseData(body []byte, tmpl Template, baseTime, sysUptime int64) []models.NetFlowRecord {
	size := tmpl.RecordSize()
	if size <= 0 {
		return nil
	}
	var records []models.NetFlowRecord
	for offset := 0; offset+size <= len(body); offset += size {
		rec := models.NetFlowRecord{StartTime: baseTime, EndTime: baseTime}
		pos := offset
		for _, f := range tmpl.Fields {
			v := body[pos : pos+int(f.Length)]
			pos += int(f.Length)
			switch f.Type {
			case fieldInBytes:
				rec.Bytes = fieldUint(v)
			case fieldInPkts:
				rec.Packets = fieldUint(v)
			case fieldProtocol:
				rec.Protocol = uint8(fieldUint(v))
			case fieldTOS:
				rec.TOS = uint8(fieldUint(v))
			case fieldTCPFlags:
				rec.TCPFlags = uint8(fieldUint(v))
			case fieldL4SrcPort:
				rec.SrcPort = uint16(fieldUint(v))
			case fieldSrcAddr:
				if len(v) == 4 {
					rec.SrcAddress = netutil.FormatIPv4(binary.BigEndian.Uint32(v))
				}
			case fieldL4DstPort:
				rec.DstPort = uint16(fieldUint(v))
			case fieldDstAddr:
				if len(v) == 4 {
					rec.DstAddress = netutil.FormatIPv4(binary.BigEndian.Uint32(v))
				}
			case fieldFirstSwitched:
				rec.StartTime = baseTime - (sysUptime - int64(fieldUint(v)))
			case fieldLastSwitched:
				rec.EndTime = baseTime - (sysUptime - int64(fieldUint(v)))
			}
		}
		records = append(records, rec)
	}
	return records
}

// fieldUint reads a big-endian unsigned field of 1–8 bytes. Counters are
// commonly 4 or 8 bytes wide.
func fieldUint(b []byte) uint64 {
	var v uint64
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
