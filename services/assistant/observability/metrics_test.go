// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
)

func TestMetrics_RecordVerdict(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordVerdict(datatypes.Admit())
	m.RecordVerdict(datatypes.Reject(datatypes.ReasonRateLimited, ""))
	m.RecordVerdict(datatypes.Reject(datatypes.ReasonRateLimited, ""))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("admitted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("rate_limited")))
}

func TestMetrics_ActiveConversationsGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ConversationStarted()
	m.ConversationStarted()
	m.RecordTransition(datatypes.StageScheduling, datatypes.StageEscalated)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConversations))

	// A non-terminal transition leaves the gauge alone.
	m.RecordTransition(datatypes.StageGreeting, datatypes.StageCollectingProfile)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConversations))
}

func TestMetrics_InferenceLatency(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordInference(0.3, true)
	m.RecordInference(4.8, false)

	count := testutil.CollectAndCount(m.InferenceSeconds)
	assert.Equal(t, 2, count, "one series per status label")
}
