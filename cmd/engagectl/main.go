// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// engagectl is the operator CLI for the Engage assistant. It talks to
// the assistant's admin HTTP API.
package main

import (
	"os"

	"github.com/AleutianAI/AleutianEngage/pkg/logging"
)

var logger *logging.Logger

func main() {
	logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("ENGAGE_LOG_LEVEL")),
		Service: "engagectl",
	})
	defer logger.Close()

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
