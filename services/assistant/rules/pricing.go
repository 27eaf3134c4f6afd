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
)

// =============================================================================
// Pricing Policy
// =============================================================================

// PricePolicy holds the configured fees. Amounts are in minor units
// (cents) to avoid float drift in quotes. These values come from
// configuration and are emitted verbatim; a quote must never contain a
// value derived by the LLM.
type PricePolicy struct {
	// SubjectFeeCents is the fixed per-subject monthly fee.
	SubjectFeeCents int64 `yaml:"subject_fee_cents" json:"subject_fee_cents"`

	// EnrollmentFeeCents is the fixed one-time enrollment fee.
	EnrollmentFeeCents int64 `yaml:"enrollment_fee_cents" json:"enrollment_fee_cents"`

	// Currency is the ISO 4217 code used in quote text.
	Currency string `yaml:"currency" json:"currency"`
}

// DefaultPricePolicy returns the documented defaults: 120.00 per subject
// plus a 50.00 one-time enrollment fee.
func DefaultPricePolicy() PricePolicy {
	return PricePolicy{
		SubjectFeeCents:    12000,
		EnrollmentFeeCents: 5000,
		Currency:           "USD",
	}
}

// Quote is the fixed price for enrolling in a number of subjects.
type Quote struct {
	Subjects           int   `json:"subjects"`
	SubjectFeeCents    int64 `json:"subject_fee_cents"`
	EnrollmentFeeCents int64 `json:"enrollment_fee_cents"`
	TotalCents         int64 `json:"total_cents"`
}

// QuoteFor computes the quote for n subjects: n times the subject fee plus
// the one-time enrollment fee. n below 1 is treated as 1.
func (p PricePolicy) QuoteFor(subjects int) Quote {
	if subjects < 1 {
		subjects = 1
	}
	return Quote{
		Subjects:           subjects,
		SubjectFeeCents:    p.SubjectFeeCents,
		EnrollmentFeeCents: p.EnrollmentFeeCents,
		TotalCents:         int64(subjects)*p.SubjectFeeCents + p.EnrollmentFeeCents,
	}
}

// CheckQuote is the post-condition assertion for emitted quotes: the total
// must equal subjects * subject fee + enrollment fee exactly. Exposed so
// tests and the dialog machine can verify quote output against policy.
func (p PricePolicy) CheckQuote(q Quote) error {
	want := p.QuoteFor(q.Subjects)
	if q.SubjectFeeCents != want.SubjectFeeCents ||
		q.EnrollmentFeeCents != want.EnrollmentFeeCents ||
		q.TotalCents != want.TotalCents {
		return fmt.Errorf("quote %+v does not match configured pricing %+v", q, want)
	}
	return nil
}

// FormatAmount renders minor units as a human amount, e.g. "USD 120.00".
func (p PricePolicy) FormatAmount(cents int64) string {
	return fmt.Sprintf("%s %d.%02d", p.Currency, cents/100, cents%100)
}
