package header

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// speed of light in m/s, used for the field of view
const sol = 299792458.0

// keyWidth is the fixed width of the padded key column in a sidecar header.
const keyWidth = 16

type Info struct {
	Telescope    string  // Site
	Observer     string  // Observer
	Project      string  // Proposal
	Instrument   string  // Array Mode
	Date         string  // UT date at file start
	NumAntennas  int     // Num Antennas
	NumChan      int     // Num Channels
	ChanWidth    float64 // Channel width (MHz)
	Freq         float64 // Frequency of channel 1 (MHz)
	Dt           float64 // Sampling time (s)
	BitsPerSamp  int     // Num bits/sample
	LittleEndian bool    // Data Format contains "little"
	Polarization string  // Polarizations
	MJDi         int     // Integer MJD at file start
	MJDf         float64 // Fractional MJD at file start
	Object       string  // Source
	RAh, RAm     int     // Right ascension hours, minutes
	RAs          float64 // Right ascension seconds
	DecD, DecM   int     // Declination degrees, minutes
	DecS         float64 // Declination seconds
	CoordSys     string  // Coordinate Sys
	BadChannels  string  // Bad Channels
	FreqBand     float64 // Total bandwidth (MHz)
	FOV          float64 // Beam size (arcsec)
}

// MJD returns the start time as a single float. Use MJDi and MJDf
// directly for time differences.
func (i *Info) MJD() float64 {
	return float64(i.MJDi) + i.MJDf
}

// Path maps a raw data file name onto its sidecar header name by
// replacing the last three characters with "hdr".
func Path(rawName string) string {
	if len(rawName) < 3 {
		return rawName + "hdr"
	}
	return rawName[:len(rawName)-3] + "hdr"
}

// value returns the text after the first colon, trimmed.
func value(line string) string {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[idx+1:])
}

func parseHMS(s string) (int, int, float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("bad sexagesimal value %q", s)
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, 0, err
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, 0, err
	}
	c, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return 0, 0, 0, err
	}
	return a, b, c, nil
}

// Parse reads a GMRT sidecar header. Unknown keys and comment lines
// are skipped; unsupported polarizations and coordinate systems are
// logged and parsing continues.
func Parse(r io.Reader, logger *zap.Logger) (*Info, error) {
	info := &Info{}
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || len(line) < keyWidth {
			continue
		}
		key := strings.TrimSpace(line[:keyWidth])
		val := value(line)

		var err error
		switch key {
		case "Site":
			info.Telescope = val
		case "Observer":
			info.Observer = val
		case "Proposal":
			info.Project = val
		case "Array Mode":
			info.Instrument = val
		case "Date":
			info.Date = val
		case "Num Antennas":
			info.NumAntennas, err = strconv.Atoi(val)
		case "Num Channels":
			info.NumChan, err = strconv.Atoi(val)
		case "Channel width":
			info.ChanWidth, err = strconv.ParseFloat(val, 64)
		case "Frequency Ch.1":
			info.Freq, err = strconv.ParseFloat(val, 64)
		case "Sampling Time":
			info.Dt, err = strconv.ParseFloat(val, 64)
			info.Dt /= 1000000.0
		case "Num bits/sample":
			info.BitsPerSamp, err = strconv.Atoi(val)
		case "Data Format":
			info.LittleEndian = strings.Contains(line, "little")
		case "Polarizations":
			info.Polarization = val
			if val != "Total I" {
				logger.Warn(
					"Cannot handle data with other than 'Total I' polarization",
					zap.String("polarization", val),
				)
			}
		case "MJD":
			info.MJDi, err = strconv.Atoi(val)
		case "UTC":
			var hh, mm int
			var ss float64
			hh, mm, ss, err = parseHMS(val)
			info.MJDf = (float64(hh) + (float64(mm)+ss/60.0)/60.0) / 24.0
		case "Source":
			info.Object = val
		case "Coordinates":
			radec := strings.SplitN(val, ",", 2)
			if len(radec) != 2 {
				err = fmt.Errorf("bad coordinates %q", val)
				break
			}
			info.RAh, info.RAm, info.RAs, err = parseHMS(radec[0])
			if err == nil {
				info.DecD, info.DecM, info.DecS, err = parseHMS(radec[1])
			}
		case "Coordinate Sys":
			info.CoordSys = val
			if val != "J2000" {
				logger.Warn(
					"Cannot handle non-J2000 coordinates",
					zap.String("coordinate_sys", val),
				)
			}
		case "Bad Channels":
			info.BadChannels = val
		}
		if err != nil {
			return nil, fmt.Errorf("header line %d (%s): %w", lineNum, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	info.FreqBand = info.ChanWidth * float64(info.NumChan)
	if info.Freq != 0 {
		info.FOV = 1.2 * sol * 3600.0 / (1000000.0 * info.Freq * 45 * math.Pi / 180.0)
	}
	return info, nil
}
