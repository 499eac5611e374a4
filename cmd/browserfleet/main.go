package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	apiURL  string
	apiKey  string
	verbose bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "browserfleet",
		Short: "BrowserFleet CLI for session and work pool management",
		Long:  `BrowserFleet CLI lets you manage browser sessions, work pools, and workers`,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8765", "BrowserFleet API URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "BrowserFleet API key")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose output")

	viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	viper.SetEnvPrefix("BROWSERFLEET")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(poolsCmd())
	rootCmd.AddCommand(workersCmd())
	rootCmd.AddCommand(sessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func poolsCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "pools",
		Short: "Work pool management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List work pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPools()
		},
	})

	create := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a work pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			providerType, _ := cmd.Flags().GetString("provider")
			maxSessions, _ := cmd.Flags().GetInt("max-sessions-per-worker")
			return createPool(args[0], providerType, maxSessions)
		},
	}
	create.Flags().String("provider", "docker", "Provider type")
	create.Flags().Int("max-sessions-per-worker", 5, "Sessions per worker cap")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "show [pool-id]",
		Short: "Show pool details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showJSON(fmt.Sprintf("/api/v1/workerpools/pools/%s", args[0]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats [pool-id]",
		Short: "Show pool statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showJSON(fmt.Sprintf("/api/v1/workerpools/pools/%s/stats", args[0]))
		},
	})

	del := &cobra.Command{
		Use:   "delete [pool-id]",
		Short: "Delete a work pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			path := fmt.Sprintf("/api/v1/workerpools/pools/%s", args[0])
			if force {
				path += "?force=true"
			}
			if _, err := apiRequest("DELETE", path, nil); err != nil {
				return err
			}
			fmt.Printf("✓ Pool %s deleted\n", args[0])
			return nil
		},
	}
	del.Flags().Bool("force", false, "Delete even with active sessions")
	cmd.AddCommand(del)

	return cmd
}

func workersCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "workers",
		Short: "Worker management commands",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			poolID, _ := cmd.Flags().GetString("pool")
			return listWorkers(poolID)
		},
	}
	list.Flags().String("pool", "", "Filter by work pool ID")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show [worker-id]",
		Short: "Show worker details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showJSON(fmt.Sprintf("/api/v1/workerpools/workers/%s", args[0]))
		},
	})

	del := &cobra.Command{
		Use:   "delete [worker-id]",
		Short: "Delete a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			path := fmt.Sprintf("/api/v1/workerpools/workers/%s", args[0])
			if force {
				path += "?force=true"
			}
			if _, err := apiRequest("DELETE", path, nil); err != nil {
				return err
			}
			fmt.Printf("✓ Worker %s deleted\n", args[0])
			return nil
		},
	}
	del.Flags().Bool("force", false, "Delete even with running sessions")
	cmd.AddCommand(del)

	return cmd
}

func sessionsCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "sessions",
		Short: "Session management commands",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			return listSessions(status)
		},
	}
	list.Flags().String("status", "", "Filter by status")
	cmd.AddCommand(list)

	create := &cobra.Command{
		Use:   "create",
		Short: "Request a browser session",
		RunE: func(cmd *cobra.Command, args []string) error {
			browser, _ := cmd.Flags().GetString("browser")
			version, _ := cmd.Flags().GetString("version")
			headless, _ := cmd.Flags().GetBool("headless")
			pool, _ := cmd.Flags().GetString("pool")
			return createSession(browser, version, headless, pool)
		},
	}
	create.Flags().String("browser", "chrome", "Browser (chrome, firefox, edge, safari)")
	create.Flags().String("version", "latest", "Browser version tag")
	create.Flags().Bool("headless", true, "Run headless")
	create.Flags().String("pool", "", "Target work pool ID")
	cmd.AddCommand(create)

	show := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show session details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, _ := cmd.Flags().GetBool("events")
			path := fmt.Sprintf("/api/v1/sessions/%s", args[0])
			if events {
				path += "?include_events=true"
			}
			return showJSON(path)
		},
	}
	show.Flags().Bool("events", false, "Include lifecycle events")
	cmd.AddCommand(show)

	del := &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Terminate and delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := apiRequest("DELETE", fmt.Sprintf("/api/v1/sessions/%s", args[0]), nil); err != nil {
				return err
			}
			fmt.Printf("✓ Session %s deleted\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(del)

	return cmd
}

// Implementation functions

func listPools() error {
	resp, err := apiRequest("GET", "/api/v1/workerpools/pools", nil)
	if err != nil {
		return fmt.Errorf("failed to list pools: %w", err)
	}

	pools, _ := resp["pools"].([]interface{})
	if len(pools) == 0 {
		fmt.Println("No work pools found")
		return nil
	}

	fmt.Printf("%-36s %-20s %-10s %s\n", "ID", "NAME", "PROVIDER", "STATUS")
	fmt.Println(strings.Repeat("-", 80))
	for _, p := range pools {
		pool := p.(map[string]interface{})
		fmt.Printf("%-36s %-20s %-10s %s\n",
			pool["id"], pool["name"], pool["provider_type"], pool["status"])
	}
	return nil
}

func createPool(name, providerType string, maxSessions int) error {
	body := map[string]interface{}{
		"name":                    name,
		"provider_type":           providerType,
		"status":                  "active",
		"max_sessions_per_worker": maxSessions,
	}
	resp, err := apiRequest("POST", "/api/v1/workerpools/pools", body)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	fmt.Printf("✓ Pool created\n")
	fmt.Printf("  ID: %s\n", resp["id"])
	fmt.Printf("  Name: %s\n", resp["name"])
	return nil
}

func listWorkers(poolID string) error {
	path := "/api/v1/workerpools/workers"
	if poolID != "" {
		path += "?work_pool_id=" + poolID
	}
	resp, err := apiRequest("GET", path, nil)
	if err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}

	workers, _ := resp["workers"].([]interface{})
	if len(workers) == 0 {
		fmt.Println("No workers found")
		return nil
	}

	fmt.Printf("%-36s %-20s %-8s %-6s %s\n", "ID", "NAME", "STATUS", "LOAD", "CAPACITY")
	fmt.Println(strings.Repeat("-", 80))
	for _, w := range workers {
		worker := w.(map[string]interface{})
		fmt.Printf("%-36s %-20s %-8s %-6v %v\n",
			worker["id"], worker["name"], worker["status"],
			worker["current_load"], worker["capacity"])
	}
	return nil
}

func listSessions(status string) error {
	path := "/api/v1/sessions"
	if status != "" {
		path += "?status=" + status
	}
	resp, err := apiRequest("GET", path, nil)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions, _ := resp["sessions"].([]interface{})
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	fmt.Printf("%-36s %-8s %-8s %-10s %s\n", "ID", "BROWSER", "VERSION", "STATUS", "CREATED")
	fmt.Println(strings.Repeat("-", 90))
	for _, s := range sessions {
		sess := s.(map[string]interface{})
		fmt.Printf("%-36s %-8s %-8s %-10s %s\n",
			sess["id"], sess["browser"], sess["version"], sess["status"], sess["created_at"])
	}
	return nil
}

func createSession(browser, version string, headless bool, pool string) error {
	body := map[string]interface{}{
		"browser":  browser,
		"version":  version,
		"headless": headless,
	}
	if pool != "" {
		body["work_pool_id"] = pool
	}
	resp, err := apiRequest("POST", "/api/v1/sessions", body)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	fmt.Printf("✓ Session requested\n")
	fmt.Printf("  ID: %s\n", resp["id"])
	fmt.Printf("  Status: %s\n", resp["status"])
	return nil
}

func showJSON(path string) error {
	resp, err := apiRequest("GET", path, nil)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func apiRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	url := viper.GetString("api-url") + path
	key := viper.GetString("api-key")

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respData))
	}

	if len(respData) == 0 {
		return map[string]interface{}{}, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return result, nil
}
