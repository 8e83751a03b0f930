// Command autoguard-cli is the operator's terminal client for the API:
// dry-run decisions, blacklist administration, source syncs and DLQ triage
// without leaving the shell.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	apiURL := os.Getenv("AUTOGUARD_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	apiKey := os.Getenv("AUTOGUARD_API_KEY")

	switch os.Args[1] {
	case "decide":
		cmdDecide(apiURL, apiKey)
	case "offers":
		cmdOffers(apiURL, apiKey)
	case "blacklist":
		cmdBlacklist(apiURL, apiKey)
	case "materialize":
		cmdMaterialize(apiURL, apiKey)
	case "sources":
		cmdSources(apiURL, apiKey)
	case "dlq":
		cmdDLQ(apiURL, apiKey)
	case "version":
		fmt.Printf("autoguard-cli v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`AutoGuard CLI v` + version + `

Usage: autoguard <command> [flags]

Commands:
  decide       Dry-run a decision for a visitor
  offers       List a user's offers
  blacklist    Manage blacklist rules (add|remove|counts)
  materialize  Rebuild the fast-store blacklist structures
  sources      Manage blacklist feed sources (list|sync)
  dlq          Inspect and requeue dead jobs (list|requeue)
  version      Print version
  help         Show this help

Environment:
  AUTOGUARD_API_URL   API base URL (default: http://localhost:8080)
  AUTOGUARD_API_KEY   API key for authentication

Examples:
  autoguard decide --host glow.example.com --ip 203.0.113.7 --ua "Mozilla/5.0..."
  autoguard blacklist add --family ip --value 203.0.113.66
  autoguard blacklist add --family geo --value RU --user 7
  autoguard sources sync 3
  autoguard dlq list page-generation`)
}

// ----------------------------------------------------------------
// decide command
// ----------------------------------------------------------------

func cmdDecide(apiURL, apiKey string) {
	var host, ip, ua, rawURL, referer string

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--host":
			i++
			if i < len(args) {
				host = args[i]
			}
		case "--ip":
			i++
			if i < len(args) {
				ip = args[i]
			}
		case "--ua":
			i++
			if i < len(args) {
				ua = args[i]
			}
		case "--url":
			i++
			if i < len(args) {
				rawURL = args[i]
			}
		case "--referer":
			i++
			if i < len(args) {
				referer = args[i]
			}
		}
	}

	if host == "" {
		fmt.Fprintln(os.Stderr, "Error: --host is required")
		os.Exit(1)
	}

	q := url.Values{}
	q.Set("host", host)
	if ip != "" {
		q.Set("ip", ip)
	}
	if ua != "" {
		q.Set("ua", ua)
	}
	if rawURL != "" {
		q.Set("url", rawURL)
	}
	if referer != "" {
		q.Set("referer", referer)
	}

	resp, err := doRequest("GET", apiURL+"/d?"+q.Encode(), nil, apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}

	var rec struct {
		Decision       string `json:"decision"`
		FraudScore     int    `json:"fraud_score"`
		BlockedAtLayer string `json:"blocked_at_layer"`
		Reason         string `json:"reason"`
		ProcessingMs   int64  `json:"processing_time_ms"`
	}
	if err := json.Unmarshal(resp, &rec); err != nil {
		fmt.Fprintf(os.Stderr, "Bad response: %s\n", resp)
		os.Exit(1)
	}

	switch rec.Decision {
	case "money":
		fmt.Printf("✅ MONEY | score=%d | %dms\n", rec.FraudScore, rec.ProcessingMs)
	case "safe":
		fmt.Printf("⛔ SAFE  | score=%d | layer=%s | reason=%s | %dms\n",
			rec.FraudScore, rec.BlockedAtLayer, rec.Reason, rec.ProcessingMs)
	default:
		fmt.Printf("%s\n", resp)
	}
}

// ----------------------------------------------------------------
// offers command
// ----------------------------------------------------------------

func cmdOffers(apiURL, apiKey string) {
	if len(os.Args) < 3 || os.Args[2] != "list" {
		fmt.Fprintln(os.Stderr, "Usage: autoguard offers list --user <id>")
		os.Exit(1)
	}

	var userID string
	args := os.Args[3:]
	for i := 0; i < len(args); i++ {
		if args[i] == "--user" {
			i++
			if i < len(args) {
				userID = args[i]
			}
		}
	}
	if userID == "" {
		fmt.Fprintln(os.Stderr, "Error: --user is required")
		os.Exit(1)
	}

	resp, err := doRequest("GET", apiURL+"/api/v1/offers?user_id="+url.QueryEscape(userID), nil, apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}

	var offers []struct {
		ID           int64  `json:"id"`
		BrandName    string `json:"brand_name"`
		Subdomain    string `json:"subdomain"`
		CustomDomain string `json:"custom_domain"`
		Status       string `json:"status"`
		CloakEnabled bool   `json:"cloak_enabled"`
	}
	if err := json.Unmarshal(resp, &offers); err != nil {
		fmt.Fprintf(os.Stderr, "Bad response: %s\n", resp)
		os.Exit(1)
	}
	if len(offers) == 0 {
		fmt.Println("No offers.")
		return
	}

	fmt.Printf("%-6s %-20s %-15s %-25s %-8s %s\n", "ID", "BRAND", "SUBDOMAIN", "DOMAIN", "STATUS", "CLOAK")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, o := range offers {
		domain := o.CustomDomain
		if domain == "" {
			domain = "-"
		}
		cloak := "off"
		if o.CloakEnabled {
			cloak = "on"
		}
		fmt.Printf("%-6d %-20s %-15s %-25s %-8s %s\n",
			o.ID, truncate(o.BrandName, 20), o.Subdomain, domain, o.Status, cloak)
	}
}

// ----------------------------------------------------------------
// blacklist command
// ----------------------------------------------------------------

func cmdBlacklist(apiURL, apiKey string) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: autoguard blacklist <add|remove|counts>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "add":
		var family, value, user, patternType string
		args := os.Args[3:]
		for i := 0; i < len(args); i++ {
			switch args[i] {
			case "--family", "-f":
				i++
				if i < len(args) {
					family = args[i]
				}
			case "--value", "-v":
				i++
				if i < len(args) {
					value = args[i]
				}
			case "--user", "-u":
				i++
				if i < len(args) {
					user = args[i]
				}
			case "--match":
				i++
				if i < len(args) {
					patternType = args[i]
				}
			}
		}
		if family == "" || value == "" {
			fmt.Fprintln(os.Stderr, "Usage: autoguard blacklist add --family <ip|iprange|ua|isp|geo> --value <v> [--user <id>] [--match exact|contains|regex]")
			os.Exit(1)
		}

		rule := map[string]interface{}{"family": family, "source": "manual"}
		switch family {
		case "ip":
			rule["ip_address"] = value
		case "iprange":
			rule["cidr"] = value
		case "ua":
			rule["pattern"] = value
			if patternType == "" {
				patternType = "contains"
			}
			rule["pattern_type"] = patternType
		case "isp":
			// Bare numbers and AS-prefixed values are ASNs; anything else
			// matches by provider name.
			if _, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(value), "AS")); err == nil {
				rule["asn"] = value
			} else {
				rule["isp_name"] = value
			}
		case "geo":
			rule["country_code"] = value
		default:
			fmt.Fprintf(os.Stderr, "Unknown family: %s\n", family)
			os.Exit(1)
		}
		if user != "" {
			rule["user_id"] = mustAtoi(user)
		}

		body, _ := json.Marshal(rule)
		resp, err := doRequest("POST", apiURL+"/api/v1/blacklist/rules", body, apiKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
			os.Exit(1)
		}
		var created struct {
			ID int64 `json:"id"`
		}
		json.Unmarshal(resp, &created)
		fmt.Printf("✅ Rule added: %s/%d (%s)\n", family, created.ID, value)

	case "remove":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: autoguard blacklist remove <family> <id>")
			os.Exit(1)
		}
		family, id := os.Args[3], os.Args[4]
		_, err := doRequest("DELETE", apiURL+"/api/v1/blacklist/rules/"+family+"/"+id, nil, apiKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("🗑️  Removed rule %s/%s\n", family, id)

	case "counts":
		resp, err := doRequest("GET", apiURL+"/api/v1/blacklist/counts", nil, apiKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		var counts map[string]int64
		if err := json.Unmarshal(resp, &counts); err != nil {
			fmt.Fprintf(os.Stderr, "Bad response: %s\n", resp)
			os.Exit(1)
		}
		fmt.Printf("%-10s %s\n", "FAMILY", "RULES")
		fmt.Println("--------------------")
		for _, f := range []string{"ip", "iprange", "ua", "isp", "geo"} {
			fmt.Printf("%-10s %d\n", f, counts[f])
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[2])
		os.Exit(1)
	}
}

// ----------------------------------------------------------------
// materialize command
// ----------------------------------------------------------------

func cmdMaterialize(apiURL, apiKey string) {
	resp, err := doRequest("POST", apiURL+"/api/v1/blacklist/materialize", nil, apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}

	var result struct {
		Families map[string]int `json:"families"`
		Total    int            `json:"total"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Bad response: %s\n", resp)
		os.Exit(1)
	}
	for _, f := range []string{"ip", "iprange", "ua", "isp", "geo"} {
		fmt.Printf("%-10s %d\n", f, result.Families[f])
	}
	fmt.Printf("✅ Materialized %d rules\n", result.Total)
}

// ----------------------------------------------------------------
// sources command
// ----------------------------------------------------------------

func cmdSources(apiURL, apiKey string) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: autoguard sources <list|sync>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "list":
		resp, err := doRequest("GET", apiURL+"/api/v1/sources", nil, apiKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		var sources []struct {
			ID         int64      `json:"id"`
			Name       string     `json:"name"`
			SourceType string     `json:"source_type"`
			SyncStatus string     `json:"sync_status"`
			LastSyncAt *time.Time `json:"last_sync_at"`
			IsActive   bool       `json:"is_active"`
		}
		if err := json.Unmarshal(resp, &sources); err != nil {
			fmt.Fprintf(os.Stderr, "Bad response: %s\n", resp)
			os.Exit(1)
		}
		if len(sources) == 0 {
			fmt.Println("No sources.")
			return
		}
		fmt.Printf("%-6s %-25s %-10s %-8s %-10s %s\n", "ID", "NAME", "TYPE", "ACTIVE", "STATUS", "LAST SYNC")
		fmt.Println("--------------------------------------------------------------------------------")
		for _, s := range sources {
			lastSync := "never"
			if s.LastSyncAt != nil {
				lastSync = s.LastSyncAt.Format("2006-01-02 15:04")
			}
			active := "no"
			if s.IsActive {
				active = "yes"
			}
			status := s.SyncStatus
			if status == "" {
				status = "-"
			}
			fmt.Printf("%-6d %-25s %-10s %-8s %-10s %s\n",
				s.ID, truncate(s.Name, 25), s.SourceType, active, status, lastSync)
		}

	case "sync":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: autoguard sources sync <id>")
			os.Exit(1)
		}
		id := os.Args[3]
		_, err := doRequest("POST", apiURL+"/api/v1/sources/"+id+"/sync", nil, apiKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Sync queued for source %s\n", id)

	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[2])
		os.Exit(1)
	}
}

// ----------------------------------------------------------------
// dlq command
// ----------------------------------------------------------------

func cmdDLQ(apiURL, apiKey string) {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: autoguard dlq <list|requeue> <page-generation|blacklist-sync|domain-verification>")
		os.Exit(1)
	}
	action, slug := os.Args[2], os.Args[3]

	switch action {
	case "list":
		resp, err := doRequest("GET", apiURL+"/api/v1/dlq/"+slug, nil, apiKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		var result struct {
			Queue      string `json:"queue"`
			Ready      int64  `json:"ready"`
			Processing int64  `json:"processing"`
			Delayed    int64  `json:"delayed"`
			Dead       int64  `json:"dead"`
			Entries    []struct {
				Payload string `json:"payload"`
			} `json:"entries"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			fmt.Fprintf(os.Stderr, "Bad response: %s\n", resp)
			os.Exit(1)
		}
		fmt.Printf("Queue:      %s\nReady:      %d\nProcessing: %d\nDelayed:    %d\nDead:       %d\n",
			result.Queue, result.Ready, result.Processing, result.Delayed, result.Dead)
		if len(result.Entries) > 0 {
			fmt.Println("\nDead payloads (pass one back verbatim to requeue):")
			for i, e := range result.Entries {
				fmt.Printf("%3d  %s\n", i+1, e.Payload)
			}
		}

	case "requeue":
		var payload string
		args := os.Args[4:]
		for i := 0; i < len(args); i++ {
			if args[i] == "--payload" || args[i] == "-p" {
				i++
				if i < len(args) {
					payload = args[i]
				}
			}
		}
		if payload == "" {
			// Reading from stdin lets operators pipe a payload straight
			// out of `dlq list` without shell-quoting a JSON blob.
			data, err := io.ReadAll(os.Stdin)
			if err != nil || len(bytes.TrimSpace(data)) == 0 {
				fmt.Fprintln(os.Stderr, "Usage: autoguard dlq requeue <queue> --payload '<json>'  (or pipe the payload on stdin)")
				os.Exit(1)
			}
			payload = string(bytes.TrimRight(data, "\n"))
		}

		body, _ := json.Marshal(map[string]string{"payload": payload})
		_, err := doRequest("POST", apiURL+"/api/v1/dlq/"+slug+"/requeue", body, apiKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Requeued onto %s\n", slug)

	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", action)
		os.Exit(1)
	}
}

// ----------------------------------------------------------------
// helpers
// ----------------------------------------------------------------

func doRequest(method, url string, body []byte, apiKey string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			return nil, fmt.Errorf("%s: %s (%s)", resp.Status, e.Message, e.Code)
		}
		return nil, fmt.Errorf("%s: %s", resp.Status, data)
	}
	return data, nil
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Not a number: %s\n", s)
		os.Exit(1)
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
