package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
	"github.com/sirosfoundation/go-server-mongo/pkg/config"
	"github.com/sirosfoundation/go-server-mongo/pkg/middleware"
)

var proceduresCmd = &cobra.Command{
	Use:   "procedures",
	Short: "List procedures exposed by the control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(serverURL, token)
		data, err := client.Get("/procedures")
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(data)
		}

		var resp struct {
			Procedures []procedure.Info `json:"procedures"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		rows := make([][]string, len(resp.Procedures))
		for i, p := range resp.Procedures {
			rows[i] = []string{p.Path, p.Meta.Description, strings.Join(p.Meta.Args, ", ")}
		}
		printTable([]string{"PATH", "DESCRIPTION", "ARGS"}, rows)
		return nil
	},
}

var callCmd = &cobra.Command{
	Use:   "call [path] [json-input]",
	Short: "Call any procedure with a JSON input",
	Long: `Call a procedure by its dotted path.

Example:
  mongo-admin call mongo.find '{"collection":"users","filter":{"active":true}}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input interface{}
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("input is not valid JSON")
			}
			input = json.RawMessage(args[1])
		}

		client := NewClient(serverURL, token)
		data, err := client.Call(args[0], input)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var (
	tokenSecret  string
	tokenIssuer  string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a control-plane bearer token",
	Long: `Issue an HS256 token accepted by a control plane configured with the same
auth.jwt_secret and auth.issuer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			return fmt.Errorf("--secret is required")
		}
		signed, err := middleware.IssueToken(config.AuthConfig{JWTSecret: tokenSecret, Issuer: tokenIssuer}, tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(signed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(proceduresCmd, callCmd, tokenCmd)

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Shared JWT secret (auth.jwt_secret)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "server-mongo", "Token issuer (auth.issuer)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "mongo-admin", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}
