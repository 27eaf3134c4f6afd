// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Operating Hours
// =============================================================================

// Interval is one open window within a day, expressed as local "HH:MM"
// strings in the schedule configuration. Start is inclusive, End exclusive.
type Interval struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Schedule is the configured operating-hours table: intervals per weekday
// plus blocked holiday dates. The zero Schedule is always closed.
type Schedule struct {
	// Days maps lowercase weekday names ("monday".."sunday") to their
	// open intervals. Absent days are closed.
	Days map[string][]Interval `yaml:"days" json:"days"`

	// Holidays lists blocked dates as "2006-01-02" strings.
	Holidays []string `yaml:"holidays" json:"holidays"`

	// Timezone is the IANA zone the intervals are expressed in.
	// Default: Local.
	Timezone string `yaml:"timezone" json:"timezone"`
}

// DefaultSchedule returns the standard tutoring-business hours:
// Mon-Fri 08:00-12:00 and 14:00-18:00, closed weekends.
func DefaultSchedule() Schedule {
	weekday := []Interval{
		{Start: "08:00", End: "12:00"},
		{Start: "14:00", End: "18:00"},
	}
	return Schedule{
		Days: map[string][]Interval{
			"monday":    weekday,
			"tuesday":   weekday,
			"wednesday": weekday,
			"thursday":  weekday,
			"friday":    weekday,
		},
	}
}

// Validate checks every interval parses and starts before it ends.
func (s Schedule) Validate() error {
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
	}
	for day, intervals := range s.Days {
		for _, iv := range intervals {
			start, err := parseClock(iv.Start)
			if err != nil {
				return fmt.Errorf("%s: %w", day, err)
			}
			end, err := parseClock(iv.End)
			if err != nil {
				return fmt.Errorf("%s: %w", day, err)
			}
			if start >= end {
				return fmt.Errorf("%s: interval %s-%s starts after it ends", day, iv.Start, iv.End)
			}
		}
	}
	for _, h := range s.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("invalid holiday date %q: %w", h, err)
		}
	}
	return nil
}

// Open reports whether t falls inside an operating interval. The decision
// depends only on the schedule and t, never on message content.
func (s Schedule) Open(t time.Time) bool {
	loc := time.Local
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)

	date := local.Format("2006-01-02")
	for _, h := range s.Holidays {
		if h == date {
			return false
		}
	}

	intervals, ok := s.Days[strings.ToLower(local.Weekday().String())]
	if !ok {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	for _, iv := range intervals {
		start, err := parseClock(iv.Start)
		if err != nil {
			continue
		}
		end, err := parseClock(iv.End)
		if err != nil {
			continue
		}
		if minutes >= start && minutes < end {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}
