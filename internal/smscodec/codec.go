// Package smscodec packs a structured request into an SMS body of at most
// 160 characters, and decodes it (and gateway reply bodies) back.
//
// Wire shape: CMD#ID#AMOUNT#USER#AUTH, five '#'-separated fields, always
// present even when empty.
package smscodec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vitalconnect/resilor/internal/models"
)

// MaxLength is the hard budget a gateway SMS body must fit within.
const MaxLength = 160

var idPattern = regexp.MustCompile(`^[A-Z]+[0-9]+$`)

// commandCodes maps canonical command names to their single-letter wire
// code. Lookup on encode is case-insensitive; unrecognized commands pass
// through unchanged.
var commandCodes = map[string]string{
	"TRANSFER":   "T",
	"PAYMENT":    "P",
	"BALANCE":    "B",
	"DEPOSIT":    "D",
	"WITHDRAWAL": "W",
	"VERIFY":     "V",
}

var commandNames = func() map[string]string {
	m := make(map[string]string, len(commandCodes))
	for name, code := range commandCodes {
		m[code] = name
	}
	return m
}()

// Payload is the structured tuple the codec compresses into a text message.
type Payload struct {
	Command string
	ID      string
	Amount  float64
	User    string
	Auth    string
}

// Decoded is what Decode recovers from a wire string. ID is the
// already-compressed identifier found on the wire, not the original id;
// ID compression is one-way.
type Decoded struct {
	Command string
	ID      string
	Amount  float64
	User    string
	Auth    string
}

// Encode compresses p into a wire string. It fails with ErrSMSTooLarge if
// the result would exceed MaxLength characters.
func Encode(p Payload) (string, error) {
	fields := []string{
		encodeCommand(p.Command),
		compressID(p.ID),
		compressAmount(p.Amount),
		p.User,
		p.Auth,
	}
	s := strings.Join(fields, "#")
	if len(s) > MaxLength {
		return "", fmt.Errorf("%w: encoded length %d", models.ErrSMSTooLarge, len(s))
	}
	return s, nil
}

// Decode recovers a Decoded tuple from a wire string. It never fails:
// missing fields are left empty, so input with no '#' at all yields a
// single-field result with the raw text in Command.
func Decode(s string) Decoded {
	parts := strings.SplitN(s, "#", 5)
	for len(parts) < 5 {
		parts = append(parts, "")
	}
	amount, _ := decompressAmount(parts[2])
	return Decoded{
		Command: decodeCommand(parts[0]),
		ID:      parts[1],
		Amount:  amount,
		User:    parts[3],
		Auth:    parts[4],
	}
}

func encodeCommand(cmd string) string {
	if code, ok := commandCodes[strings.ToUpper(cmd)]; ok {
		return code
	}
	return cmd
}

func decodeCommand(code string) string {
	if name, ok := commandNames[code]; ok {
		return name
	}
	return code
}

// compressID shortens an id for the wire: if the id matches
// ^[A-Z]+[0-9]+$, emit the first letter of the alpha prefix plus the last
// four digits; otherwise emit the last six characters. An empty id stays
// empty.
func compressID(id string) string {
	if id == "" {
		return ""
	}
	if idPattern.MatchString(id) {
		i := 0
		for i < len(id) && id[i] >= 'A' && id[i] <= 'Z' {
			i++
		}
		digits := id[i:]
		if len(digits) > 4 {
			digits = digits[len(digits)-4:]
		}
		return id[:1] + digits
	}
	if len(id) > 6 {
		return id[len(id)-6:]
	}
	return id
}

// compressAmount shortens an amount with K/M unit suffixes.
func compressAmount(amount float64) string {
	switch {
	case amount >= 1_000_000:
		return formatUnit(amount/1_000_000, "M")
	case amount >= 1_000:
		return formatUnit(amount/1_000, "K")
	default:
		return strconv.FormatFloat(amount, 'f', -1, 64)
	}
}

func formatUnit(n float64, suffix string) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10) + suffix
	}
	return strconv.FormatFloat(n, 'f', 1, 64) + suffix
}

// decompressAmount is the inverse of compressAmount, preserving precision
// to the encoded digit.
func decompressAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "M"):
		mult = 1_000_000
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		mult = 1_000
		s = strings.TrimSuffix(s, "K")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

// ReplyResult is what DecodeReply recovers from a gateway reply body.
type ReplyResult struct {
	Success    bool
	StatusCode int
	ID         string
	Fields     map[string]string
	RawBody    string
}

// DecodeReply parses a gateway reply. "OK#<id>#<k:v>..." is success (200);
// "ERR#<id>#<code>..." is an error (400). Any other body is treated as a
// success carrying the raw body.
func DecodeReply(body string) ReplyResult {
	parts := strings.Split(body, "#")
	if len(parts) >= 2 && (parts[0] == "OK" || parts[0] == "ERR") {
		fields := make(map[string]string, len(parts)-2)
		for _, kv := range parts[2:] {
			if i := strings.Index(kv, ":"); i >= 0 {
				fields[kv[:i]] = kv[i+1:]
			} else if kv != "" {
				fields[kv] = ""
			}
		}
		status := 200
		if parts[0] == "ERR" {
			status = 400
		}
		return ReplyResult{
			Success:    parts[0] == "OK",
			StatusCode: status,
			ID:         parts[1],
			Fields:     fields,
		}
	}
	return ReplyResult{Success: true, StatusCode: 200, RawBody: body}
}
