// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL  string
	auditLimit int

	rootCmd = &cobra.Command{
		Use:   "engagectl",
		Short: "A cli to operate the Engage WhatsApp assistant",
		Long: `engagectl inspects a running Engage assistant: conversation
state, circuit breakers, the audit log, and startup health.`,
	}

	breakersCmd = &cobra.Command{
		Use:   "breakers",
		Short: "Show every circuit breaker and its state",
		RunE:  runBreakers,
	}

	conversationsCmd = &cobra.Command{
		Use:   "conversations",
		Short: "Inspect conversation state",
	}
	conversationGetCmd = &cobra.Command{
		Use:   "get [identity]",
		Short: "Fetch the live conversation state for one identity",
		Args:  cobra.ExactArgs(1),
		RunE:  runConversationGet,
	}

	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Show the newest audit records",
		RunE:  runAudit,
	}

	startupCmd = &cobra.Command{
		Use:   "startup",
		Short: "Show startup tier status and readiness",
		RunE:  runStartup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("ENGAGE_SERVER_URL", "http://localhost:8086"),
		"Base URL of the assistant's admin API")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Number of records to fetch")

	conversationsCmd.AddCommand(conversationGetCmd)
	rootCmd.AddCommand(breakersCmd, conversationsCmd, auditCmd, startupCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// fetchJSON GETs an admin endpoint and pretty-prints the JSON body to
// stdout. Non-2xx responses become errors carrying the body.
func fetchJSON(path string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("could not reach the assistant at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("assistant returned %d: %s", resp.StatusCode, string(body))
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runBreakers(cmd *cobra.Command, args []string) error {
	return fetchJSON("/v1/admin/breakers")
}

func runConversationGet(cmd *cobra.Command, args []string) error {
	return fetchJSON("/v1/admin/conversations/" + url.PathEscape(args[0]))
}

func runAudit(cmd *cobra.Command, args []string) error {
	return fetchJSON(fmt.Sprintf("/v1/admin/audit?limit=%d", auditLimit))
}

func runStartup(cmd *cobra.Command, args []string) error {
	return fetchJSON("/v1/admin/startup")
}
