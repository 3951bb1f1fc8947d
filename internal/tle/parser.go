package tle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/orbit"
)

var (
	ErrInvalidFormat   = errors.New("invalid TLE format")
	ErrInvalidChecksum = errors.New("invalid TLE checksum")
	ErrLineTooShort    = errors.New("TLE line too short")
	ErrIDMismatch      = errors.New("catalog number differs between lines")
	ErrInvalidAlpha5   = errors.New("invalid Alpha-5 catalog number")
)

// LineLength is the length of a TLE data line including its checksum.
const LineLength = 69

// Letters I and O are skipped by Alpha-5.
var alpha5 = map[byte]int{
	'A': 10, 'B': 11, 'C': 12, 'D': 13, 'E': 14, 'F': 15, 'G': 16, 'H': 17,
	'J': 18, 'K': 19, 'L': 20, 'M': 21, 'N': 22,
	'P': 23, 'Q': 24, 'R': 25, 'S': 26, 'T': 27, 'U': 28, 'V': 29, 'W': 30,
	'X': 31, 'Y': 32, 'Z': 33,
}

// Parse reads 2-line or 3-line NORAD TLE text from r. Malformed entries are
// skipped with a warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var (
		entries []Entry
		skipped int
	)
	for i := 0; i+1 < len(lines); {
		name := ""
		if !strings.HasPrefix(lines[i], "1 ") {
			name = strings.TrimSpace(lines[i])
			i++
		}
		if i+1 >= len(lines) {
			break
		}
		line1, line2 := lines[i], lines[i+1]

		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name)
			skipped++
			if name == "" {
				i++
			}
			continue
		}

		entry, err := ParseEntry(name, line1, line2)
		i += 2
		if err != nil {
			logger.Warn("skipping invalid TLE entry", "name", name, "error", err)
			skipped++
			continue
		}
		entries = append(entries, entry)
	}

	if skipped > 0 {
		metrics.AddTLEParseErrors(skipped)
	}
	return entries, nil
}

// ParseEntry validates and decodes one element set. Errors are
// *orbit.ParseError wrapping one of the package's sentinel errors.
func ParseEntry(name, line1, line2 string) (Entry, error) {
	line1 = strings.TrimRight(line1, "\r\n ")
	line2 = strings.TrimRight(line2, "\r\n ")

	if len(line1) < LineLength {
		return Entry{}, parseErr("line1", fmt.Errorf("%w: %d chars", ErrLineTooShort, len(line1)))
	}
	if len(line2) < LineLength {
		return Entry{}, parseErr("line2", fmt.Errorf("%w: %d chars", ErrLineTooShort, len(line2)))
	}
	if line1[0] != '1' || line2[0] != '2' {
		return Entry{}, parseErr("line_number", ErrInvalidFormat)
	}
	if !validChecksum(line1) {
		return Entry{}, parseErr("line1", ErrInvalidChecksum)
	}
	if !validChecksum(line2) {
		return Entry{}, parseErr("line2", ErrInvalidChecksum)
	}

	e := Entry{
		Name:           strings.TrimSpace(name),
		IntlDesignator: strings.TrimSpace(line1[9:17]),
		Line1:          line1,
		Line2:          line2,
	}

	var err error
	if e.NORADID, err = parseCatalogNumber(line1[2:7]); err != nil {
		return Entry{}, parseErr("catalog_number", err)
	}
	id2, err := parseCatalogNumber(line2[2:7])
	if err != nil {
		return Entry{}, parseErr("catalog_number", err)
	}
	if id2 != e.NORADID {
		return Entry{}, parseErr("catalog_number", fmt.Errorf("%w: %d vs %d", ErrIDMismatch, e.NORADID, id2))
	}

	if e.Epoch, err = parseEpoch(strings.TrimSpace(line1[18:32])); err != nil {
		return Entry{}, parseErr("epoch", err)
	}
	if e.MeanMotionDot, err = strconv.ParseFloat(strings.TrimSpace(line1[33:43]), 64); err != nil {
		return Entry{}, parseErr("mean_motion_dot", err)
	}
	if e.Bstar, err = parseExponent(line1[53:61]); err != nil {
		return Entry{}, parseErr("bstar", err)
	}

	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"inclination", line2[8:16], &e.Inclination},
		{"raan", line2[17:25], &e.RAAN},
		{"eccentricity", "0." + strings.TrimSpace(line2[26:33]), &e.Eccentricity},
		{"arg_perigee", line2[34:42], &e.ArgPerigee},
		{"mean_anomaly", line2[43:51], &e.MeanAnomaly},
		{"mean_motion", line2[52:63], &e.MeanMotion},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil {
			return Entry{}, parseErr(f.name, err)
		}
		*f.dst = v
	}
	if rev := strings.TrimSpace(line2[63:68]); rev != "" {
		e.RevNumber, _ = strconv.Atoi(rev)
	}

	return e, nil
}

func parseErr(field string, err error) error {
	return &orbit.ParseError{Source: "tle", Field: field, Err: err}
}

// validChecksum applies the modulo-10 rule: digits count their value, minus signs count 1.
func validChecksum(line string) bool {
	want := line[LineLength-1]
	if want < '0' || want > '9' {
		return false
	}
	return checksum(line[:LineLength-1]) == int(want-'0')
}

func checksum(s string) int {
	sum := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// parseCatalogNumber accepts plain 5-digit numbers and the Alpha-5 form (A0000 = 100000).
func parseCatalogNumber(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidFormat
	}
	if c := s[0]; c >= 'A' && c <= 'Z' {
		prefix, ok := alpha5[c]
		if !ok || len(s) != 5 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAlpha5, s)
		}
		rest, err := strconv.Atoi(s[1:])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAlpha5, s)
		}
		return prefix*10000 + rest, nil
	}
	return strconv.Atoi(s)
}

// parseExponent decodes the TLE assumed-decimal notation, e.g. "-11606-4" = -0.11606e-4.
func parseExponent(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	mantissa, exp := s, "0"
	if i := strings.LastIndexAny(s, "+-"); i > 0 {
		mantissa, exp = s[:i], s[i:]
	}
	m, err := strconv.ParseFloat("0."+strings.TrimSpace(mantissa), 64)
	if err != nil {
		return 0, err
	}
	x, err := strconv.Atoi(exp)
	if err != nil {
		return 0, err
	}
	return sign * m * math.Pow10(x), nil
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// dayOfYear is 1-based: day 1.0 = Jan 1 00:00.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
