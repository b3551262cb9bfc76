// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nmea

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// uere is the user equivalent range error in meters that HDOP is multiplied with.
	uere = 5.0
	// fallbackAccuracy is used for valid fixes when no GGA sentence reported an HDOP yet.
	fallbackAccuracy = 25.0
)

// reading is the state assembled from the RMC and GGA sentences of one receiver.
type reading struct {
	lat, lon float64
	alt      float64
	hdop     float64
	haveHDOP bool
	at       time.Time
	valid    bool
}

// accuracy returns the estimated horizontal accuracy of the reading in meters.
func (r reading) accuracy() float64 {
	if !r.haveHDOP || r.hdop <= 0 {
		return fallbackAccuracy
	}
	return r.hdop * uere
}

// sentenceParser consumes NMEA 0183 sentences. Each RMC sentence completes a reading.
type sentenceParser struct {
	current reading
}

// parse processes a single line. It reports true when the line was an RMC sentence, i.e. a new
// reading is available.
func (p *sentenceParser) parse(line string) (reading, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") || !validateChecksum(line) {
		return reading{}, false
	}
	fields := splitSentence(line)
	if len(fields[0]) != 5 {
		return reading{}, false
	}

	switch fields[0][2:] {
	case "RMC":
		return p.parseRMC(fields)
	case "GGA":
		p.parseGGA(fields)
	}
	return reading{}, false
}

// parseRMC handles $--RMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a*hh
func (p *sentenceParser) parseRMC(fields []string) (reading, bool) {
	if len(fields) < 10 {
		return reading{}, false
	}
	p.current.valid = fields[2] == "A"
	p.current.at = parseTime(fields[9], fields[1])
	if p.current.valid {
		lat, latOK := parseCoordinate(fields[3], fields[4])
		lon, lonOK := parseCoordinate(fields[5], fields[6])
		p.current.lat, p.current.lon = lat, lon
		p.current.valid = latOK && lonOK
	}
	return p.current, true
}

// parseGGA handles $--GGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx*hh
func (p *sentenceParser) parseGGA(fields []string) {
	if len(fields) < 10 {
		return
	}
	quality, err := strconv.Atoi(fields[6])
	if err != nil || quality == 0 {
		p.current.haveHDOP = false
		return
	}
	if hdop, err := strconv.ParseFloat(fields[8], 64); err == nil {
		p.current.hdop = hdop
		p.current.haveHDOP = true
	}
	if alt, err := strconv.ParseFloat(fields[9], 64); err == nil {
		p.current.alt = alt
	}
}

// splitSentence splits a sentence and strips the checksum suffix.
func splitSentence(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimPrefix(line, "$")
	return strings.Split(line, ",")
}

// parseCoordinate converts the NMEA ddmm.mmmm format to decimal degrees.
func parseCoordinate(raw, hemisphere string) (float64, bool) {
	if raw == "" || hemisphere == "" {
		return 0, false
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	deg := math.Floor(val / 100)
	result := deg + (val-deg*100)/60

	switch hemisphere {
	case "N", "E":
	case "S", "W":
		result = -result
	default:
		return 0, false
	}
	return result, true
}

// parseTime combines the RMC date (ddmmyy) and UTC time (hhmmss.ss) fields. It returns the zero
// time if either field is malformed.
func parseTime(date, clock string) time.Time {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}
	}
	day, errDay := strconv.Atoi(date[0:2])
	month, errMonth := strconv.Atoi(date[2:4])
	year, errYear := strconv.Atoi(date[4:6])
	hour, errHour := strconv.Atoi(clock[0:2])
	minute, errMinute := strconv.Atoi(clock[2:4])
	seconds, errSeconds := strconv.ParseFloat(clock[4:], 64)
	for _, err := range []error{errDay, errMonth, errYear, errHour, errMinute, errSeconds} {
		if err != nil {
			return time.Time{}
		}
	}
	whole := math.Floor(seconds)
	nanos := int(math.Round((seconds - whole) * 1e9))
	return time.Date(2000+year, time.Month(month), day, hour, minute, int(whole), nanos, time.UTC)
}

// validateChecksum checks the XOR checksum after the asterisk.
func validateChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	body := line[1:idx]
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(expected) == calc
}
