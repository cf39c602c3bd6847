// Package cmd contains all CLI commands for mongo-admin.
package cmd

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
)

var (
	// Global flags
	serverURL string
	token     string
	output    string
)

// Client calls control-plane procedures over HTTP
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new control-plane client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a failed procedure call as reported by the server
type APIError struct {
	Status  int
	Code    string
	Message string
	Details []struct {
		Path    string `json:"path"`
		Message string `json:"message"`
	}
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "API error (%d)", e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	for _, d := range e.Details {
		fmt.Fprintf(&b, "\n  %s: %s", d.Path, d.Message)
	}
	return b.String()
}

// Call invokes the procedure at path and returns the raw output
func (c *Client) Call(path string, input interface{}) (json.RawMessage, error) {
	var reqBody io.Reader = http.NoBody
	if input != nil {
		jsonBody, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	data, status, err := c.do(http.MethodPost, "/procedures/"+path, reqBody)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Output json.RawMessage `json:"output"`
		Error  *struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		if status >= 400 {
			return nil, &APIError{Status: status, Message: strings.TrimSpace(string(data))}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		apiErr := &APIError{Status: status, Code: resp.Error.Code, Message: resp.Error.Message}
		_ = json.Unmarshal(resp.Error.Details, &apiErr.Details)
		return nil, apiErr
	}
	if status >= 400 {
		return nil, &APIError{Status: status, Message: strings.TrimSpace(string(data))}
	}
	return resp.Output, nil
}

// Get fetches a non-procedure endpoint such as /procedures or /status
func (c *Client) Get(path string) ([]byte, error) {
	data, status, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return nil, &APIError{Status: status, Message: errResp.Error}
		}
		return nil, &APIError{Status: status, Message: string(data)}
	}
	return data, nil
}

func (c *Client) do(method, path string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// printJSON formats and prints JSON output
func printJSON(data []byte) error {
	var formatted bytes.Buffer
	if err := json.Indent(&formatted, data, "", "  "); err != nil {
		// If it's not valid JSON, just print as-is
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(formatted.String())
	return nil
}

// printTable prints data in a simple table format
func printTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Printf("%-*s  ", widths[i], h)
	}
	fmt.Println()
	for i := range headers {
		fmt.Printf("%s  ", strings.Repeat("-", widths[i]))
	}
	fmt.Println()
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Printf("%-*s  ", widths[i], cell)
			}
		}
		fmt.Println()
	}
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mongo-admin",
	Short: "CLI tool for managing MongoDB peer servers",
	Long: `mongo-admin talks to the server-mongo control plane.

It provides commands to:
  - start peer servers backed by a MongoDB connection
  - stop running peer servers
  - list running peer servers
  - connect the control plane to a MongoDB database

Examples:
  # Start a peer on port 8080
  mongo-admin start -p 8080 -h 127.0.0.1

  # Start a peer and connect it to a database
  mongo-admin start -u mongodb://localhost:27017 -d app

  # Show running peers
  mongo-admin status

  # Stop a peer
  mongo-admin stop mongo-server-1718000000000-1

Environment Variables:
  MONGO_ADMIN_URL    Base URL of the control plane (default: http://localhost:7070)
  MONGO_ADMIN_TOKEN  Bearer token for the control plane`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getEnvOrDefault("MONGO_ADMIN_URL", "http://localhost:7070"), "Control plane base URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("MONGO_ADMIN_TOKEN"), "Bearer token")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
