// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package transform maps raw device transactions to normalized attendance
// events: employee-ID resolution through an injected mapping table (with an
// optional directory fallback) and timestamp normalization from the
// controller's assorted string layouts into one canonical zone and format.
package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/metrics"
	"github.com/punchsync/punchsync/internal/models"
)

// SinkTimeLayout is the canonical date-time format the sink API expects.
const SinkTimeLayout = "02/01/2006 15:04:05"

// dateLayouts are the date shapes observed across controller firmwares,
// tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2/1/2006",
	"2006/01/02",
	"02-Jan-2006",
}

// timeLayouts are the time-of-day shapes observed across firmwares.
var timeLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04:05 PM",
	"3:04 PM",
}

// Resolver resolves a device employee code to a sink employee ID. The static
// mapping table satisfies it directly; the scheduler wires a resolver that
// falls back to the sink's employee directory.
type Resolver interface {
	Resolve(ctx context.Context, employeeCode string) (string, error)
}

// StaticMap is a Resolver over the configured employee-code mapping table.
type StaticMap map[string]string

// Resolve looks the code up in the table.
func (m StaticMap) Resolve(_ context.Context, code string) (string, error) {
	if id, ok := m[code]; ok && id != "" {
		return id, nil
	}
	return "", &models.ValidationError{EmployeeCode: code, Kind: models.ValidationUnmappedEmployee, Reason: "no mapping entry"}
}

// Chain is a Resolver that tries each member in order and returns the first
// success. The scheduler chains the static mapping table ahead of the sink
// directory lookup.
type Chain []Resolver

// Resolve implements Resolver. The last member's error stands when every
// member misses.
func (c Chain) Resolve(ctx context.Context, code string) (string, error) {
	var lastErr error
	for _, r := range c {
		id, err := r.Resolve(ctx, code)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &models.ValidationError{EmployeeCode: code, Kind: models.ValidationUnmappedEmployee, Reason: "empty resolver chain"}
	}
	return "", lastErr
}

// Transformer converts RawRecords to AttendanceEvents.
type Transformer struct {
	resolver Resolver
	loc      *time.Location
}

// New creates a Transformer producing timestamps in loc.
func New(resolver Resolver, loc *time.Location) *Transformer {
	if loc == nil {
		loc = time.UTC
	}
	return &Transformer{resolver: resolver, loc: loc}
}

// Transform maps one raw record to one attendance event, or returns a
// ValidationError describing why the record must be dropped.
func (t *Transformer) Transform(ctx context.Context, raw models.RawRecord) (models.AttendanceEvent, error) {
	code := strings.TrimSpace(raw.EmployeeCode)
	if code == "" {
		return models.AttendanceEvent{}, &models.ValidationError{
			EmployeeCode: raw.EmployeeCode,
			Kind:         models.ValidationUnmappedEmployee,
			Reason:       "empty employee code",
		}
	}

	employeeID, err := t.resolver.Resolve(ctx, code)
	if err != nil {
		return models.AttendanceEvent{}, err
	}

	checkIn, err := t.parseTimestamp(raw.PunchDate, raw.PunchTime)
	if err != nil {
		return models.AttendanceEvent{}, &models.ValidationError{
			EmployeeCode: code,
			Kind:         models.ValidationBadTimestamp,
			Reason:       err.Error(),
		}
	}

	return models.AttendanceEvent{
		EmployeeID: employeeID,
		CheckIn:    checkIn,
		DeviceID:   raw.DeviceID,
		DeviceName: raw.DeviceName,
		Comment:    t.comment(raw),
	}, nil
}

// Result is the outcome of transforming one fetch window.
type Result struct {
	Events  []models.AttendanceEvent
	Dropped int
}

// TransformAll converts a window's records, dropping and logging any that
// fail resolution or parsing. Every drop is accounted for; nothing is lost
// silently.
func (t *Transformer) TransformAll(ctx context.Context, records []models.RawRecord) Result {
	res := Result{Events: make([]models.AttendanceEvent, 0, len(records))}

	for i := range records {
		event, err := t.Transform(ctx, records[i])
		if err != nil {
			res.Dropped++
			metrics.RecordsDropped.WithLabelValues(string(dropKind(err))).Inc()
			logging.Warn().
				Err(err).
				Str("employee_code", records[i].EmployeeCode).
				Str("device", records[i].DeviceName).
				Msg("Dropping record")
			continue
		}
		res.Events = append(res.Events, event)
	}

	return res
}

// dropKind extracts the classification a drop is accounted under. Errors
// without a validation kind come from resolvers and count as unmapped.
func dropKind(err error) models.ValidationKind {
	var ve *models.ValidationError
	if errors.As(err, &ve) && ve.Kind != "" {
		return ve.Kind
	}
	return models.ValidationUnmappedEmployee
}

// parseTimestamp combines the raw date and time strings into one instant in
// the configured zone, trying each observed layout in order.
func (t *Transformer) parseTimestamp(rawDate, rawTime string) (time.Time, error) {
	rawDate = strings.TrimSpace(rawDate)
	rawTime = strings.TrimSpace(rawTime)
	if rawDate == "" {
		return time.Time{}, fmt.Errorf("empty punch date")
	}

	// Some firmwares ship a combined ISO timestamp in the date field and
	// leave the time field empty.
	if rawTime == "" {
		for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if ts, err := time.ParseInLocation(layout, rawDate, t.loc); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparsable combined timestamp %q", rawDate)
	}

	var day time.Time
	var err error
	parsed := false
	for _, layout := range dateLayouts {
		if day, err = time.ParseInLocation(layout, rawDate, t.loc); err == nil {
			parsed = true
			break
		}
	}
	if !parsed {
		return time.Time{}, fmt.Errorf("unparsable punch date %q", rawDate)
	}

	for _, layout := range timeLayouts {
		if tod, terr := time.Parse(layout, rawTime); terr == nil {
			return time.Date(day.Year(), day.Month(), day.Day(),
				tod.Hour(), tod.Minute(), tod.Second(), 0, t.loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable punch time %q", rawTime)
}

// comment builds the free-text note attached to the sink record.
func (t *Transformer) comment(raw models.RawRecord) string {
	dir := strings.ToUpper(strings.TrimSpace(raw.Direction))
	switch dir {
	case "0":
		dir = "IN"
	case "1":
		dir = "OUT"
	}
	if raw.DeviceName == "" {
		return fmt.Sprintf("Punch %s via device %s", dir, raw.DeviceCode)
	}
	return fmt.Sprintf("Punch %s via %s (%s)", dir, raw.DeviceName, raw.DeviceCode)
}

// FormatSinkTime renders an instant in the sink's canonical format.
func FormatSinkTime(ts time.Time) string {
	return ts.Format(SinkTimeLayout)
}

// ParseSinkTime parses the sink's canonical format back into an instant in
// loc. Round-trips with FormatSinkTime to the second.
func ParseSinkTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(SinkTimeLayout, s, loc)
}
