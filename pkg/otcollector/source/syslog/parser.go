package syslog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/otsense/otcollector/models"
)

// Parse turns one raw syslog line into a message. RFC 5424 is tried first,
// then the BSD RFC 3164 form, then a minimal <PRI>REST fallback. A line
// without even a PRI header is a parse error and is dropped by the caller.
func Parse(raw, sourceIP string, now time.Time) (models.SyslogMessage, error) {
	pri, rest, err := parsePRI(raw)
	if err != nil {
		return models.SyslogMessage{}, err
	}

	msg, ok := parse5424(rest, now)
	if !ok {
		msg, ok = parse3164(rest, now)
	}
	if !ok {
		msg = models.SyslogMessage{
			Timestamp: now,
			Hostname:  "unknown",
			Message:   rest,
		}
	}
	msg.Facility = pri / 8
	msg.Severity = pri % 8
	msg.SourceIP = sourceIP
	return msg, nil
}

// parsePRI extracts the <PRI> header, 0 ≤ PRI ≤ 191.
func parsePRI(raw string) (int, string, error) {
	if len(raw) < 3 || raw[0] != '<' {
		return 0, "", fmt.Errorf("syslog: missing PRI header")
	}
	end := strings.IndexByte(raw, '>')
	if end < 1 || end > 4 {
		return 0, "", fmt.Errorf("syslog: malformed PRI header")
	}
	pri, err := strconv.Atoi(raw[1:end])
	if err != nil || pri < 0 || pri > 191 {
		return 0, "", fmt.Errorf("syslog: invalid PRI %q", raw[1:end])
	}
	return pri, raw[end+1:], nil
}

// ─────────────────────────────────────────────────────────────────────────────
// RFC 5424
// ─────────────────────────────────────────────────────────────────────────────

// parse5424 parses `1 TIMESTAMP HOSTNAME APP PROCID MSGID SD [MSG]` (the PRI
// is already stripped). A nil-value `-` leaves the field empty.
func parse5424(rest string, now time.Time) (models.SyslogMessage, bool) {
	version, after, ok := strings.Cut(rest, " ")
	if !ok || version != "1" {
		return models.SyslogMessage{}, false
	}

	fields := make([]string, 0, 5)
	cursor := after
	for i := 0; i < 5; i++ {
		head, tail, found := strings.Cut(cursor, " ")
		if head == "" {
			return models.SyslogMessage{}, false
		}
		fields = append(fields, head)
		if !found {
			// SD may be the final token of a message-less line.
			if i < 4 {
				return models.SyslogMessage{}, false
			}
			cursor = ""
			break
		}
		cursor = tail
	}
	if len(fields) < 5 {
		return models.SyslogMessage{}, false
	}

	msg := models.SyslogMessage{
		Timestamp: parseTimestamp5424(fields[0], now),
		Hostname:  nilValue(fields[1]),
		AppName:   nilValue(fields[2]),
		ProcID:    nilValue(fields[3]),
		MsgID:     nilValue(fields[4]),
	}
	if msg.Hostname == "" {
		msg.Hostname = "unknown"
	}

	sd, message, ok := parseStructuredData(cursor)
	if !ok {
		return models.SyslogMessage{}, false
	}
	msg.StructuredData = sd
	msg.Message = message
	return msg, true
}

func nilValue(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func parseTimestamp5424(s string, now time.Time) time.Time {
	if s == "-" {
		return now
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	return now
}

// parseStructuredData consumes `-` or one or more `[id k="v" ...]` blocks
// and returns the remaining free-form message. Quoted values may contain
// escaped `\"` and `\]`.
func parseStructuredData(rest string) (map[string]map[string]string, string, bool) {
	if rest == "" {
		return nil, "", true
	}
	if head, tail, _ := strings.Cut(rest, " "); head == "-" {
		return nil, tail, true
	}
	if rest[0] != '[' {
		return nil, "", false
	}

	sd := make(map[string]map[string]string)
	for len(rest) > 0 && rest[0] == '[' {
		end := sdBlockEnd(rest)
		if end < 0 {
			return nil, "", false
		}
		id, params := parseSDBlock(rest[1:end])
		if id != "" {
			sd[id] = params
		}
		rest = strings.TrimPrefix(rest[end+1:], " ")
	}
	return sd, rest, true
}

// sdBlockEnd finds the index of the unescaped closing bracket.
func sdBlockEnd(s string) int {
	inQuotes := false
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			inQuotes = !inQuotes
		case ']':
			if !inQuotes {
				return i
			}
		}
	}
	return -1
}

// parseSDBlock parses `id k="v" k2="v2"` (brackets already stripped).
func parseSDBlock(body string) (string, map[string]string) {
	id, rest, _ := strings.Cut(body, " ")
	params := make(map[string]string)
	for rest != "" {
		key, after, ok := strings.Cut(rest, "=\"")
		if !ok {
			break
		}
		valEnd := -1
		for i := 0; i < len(after); i++ {
			if after[i] == '\\' {
				i++
				continue
			}
			if after[i] == '"' {
				valEnd = i
				break
			}
		}
		if valEnd < 0 {
			break
		}
		val := strings.NewReplacer(`\"`, `"`, `\]`, `]`, `\\`, `\`).Replace(after[:valEnd])
		params[strings.TrimSpace(key)] = val
		rest = strings.TrimPrefix(after[valEnd+1:], " ")
	}
	return id, params
}

// ─────────────────────────────────────────────────────────────────────────────
// RFC 3164
// ─────────────────────────────────────────────────────────────────────────────

var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// parse3164 parses `MMM DD HH:MM:SS HOST TAG[PID]: MSG` (PRI already
// stripped). The year is taken from the current clock.
func parse3164(rest string, now time.Time) (models.SyslogMessage, bool) {
	fields := strings.Fields(rest)
	if len(fields) < 4 {
		return models.SyslogMessage{}, false
	}
	month, ok := months[fields[0]]
	if !ok {
		return models.SyslogMessage{}, false
	}
	day, err := strconv.Atoi(fields[1])
	if err != nil || day < 1 || day > 31 {
		return models.SyslogMessage{}, false
	}
	clock := strings.Split(fields[2], ":")
	if len(clock) != 3 {
		return models.SyslogMessage{}, false
	}
	hh, err1 := strconv.Atoi(clock[0])
	mm, err2 := strconv.Atoi(clock[1])
	ss, err3 := strconv.Atoi(clock[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return models.SyslogMessage{}, false
	}

	msg := models.SyslogMessage{
		Timestamp: time.Date(now.Year(), month, day, hh, mm, ss, 0, time.UTC),
		Hostname:  fields[3],
	}

	remainder := strings.Join(fields[4:], " ")
	if tag, content, found := strings.Cut(remainder, ": "); found && !strings.Contains(tag, " ") {
		app := tag
		if open := strings.IndexByte(tag, '['); open >= 0 {
			app = tag[:open]
			if end := strings.IndexByte(tag[open:], ']'); end > 0 {
				msg.ProcID = tag[open+1 : open+end]
			}
		}
		msg.AppName = app
		msg.Message = content
	} else {
		msg.Message = remainder
	}
	return msg, true
}
