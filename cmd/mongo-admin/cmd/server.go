package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-server-mongo/internal/control"
	"github.com/sirosfoundation/go-server-mongo/internal/domain"
)

const (
	pathStart   = "server.mongo.start"
	pathStop    = "server.mongo.stop"
	pathStatus  = "server.mongo.status"
	pathConnect = "server.mongo.connect"
)

var (
	startPort       int
	startHost       string
	startURI        string
	startDatabase   string
	startTransports string
)

// buildStartRequest assembles the start input from flags; only changed flags are sent
func buildStartRequest(cmd *cobra.Command) (control.StartRequest, error) {
	var req control.StartRequest
	if cmd.Flags().Changed("port") {
		port := startPort
		req.Port = &port
	}
	req.Host = startHost
	req.MongoURI = startURI
	req.Database = startDatabase
	if startTransports != "" {
		if err := json.Unmarshal([]byte(startTransports), &req.Transports); err != nil {
			return req, fmt.Errorf("invalid --transports: %w", err)
		}
	}
	return req, nil
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a MongoDB peer server",
	Long: `Start a peer server that serves the registered procedures.

Without --transports a single http transport is created on the given port and host.
--transports takes a JSON array, for example:
  '[{"type":"http","port":8080},{"type":"websocket","port":8081,"path":"/ws"}]'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildStartRequest(cmd)
		if err != nil {
			return err
		}

		client := NewClient(serverURL, token)
		data, err := client.Call(pathStart, req)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(data)
		}

		var resp control.StartResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		fmt.Printf("Started %s (%d procedures)\n", resp.ServerID, resp.ProcedureCount)
		printEndpoints(resp.Endpoints)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [server-id]",
	Short: "Stop a running peer server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(serverURL, token)
		data, err := client.Call(pathStop, control.StopRequest{ServerID: args[0]})
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(data)
		}

		var resp control.StopResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if !resp.Success {
			return fmt.Errorf("server %s was not stopped (unknown id or stop failure)", args[0])
		}
		fmt.Printf("Stopped %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [server-id]",
	Short: "Show running peer servers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := control.StatusRequest{}
		if len(args) == 1 {
			req.ServerID = args[0]
		}

		client := NewClient(serverURL, token)
		data, err := client.Call(pathStatus, req)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(data)
		}

		var resp control.StatusResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if len(resp.Servers) == 0 {
			fmt.Println("No servers running.")
			return nil
		}
		printTable(statusTable(resp.Servers))
		return nil
	},
}

var (
	connectURI      string
	connectDatabase string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect the control plane to a MongoDB database",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(serverURL, token)
		data, err := client.Call(pathConnect, control.ConnectRequest{URI: connectURI, Database: connectDatabase})
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(data)
		}

		var resp control.ConnectResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		fmt.Printf("Connected to database %s\n", resp.Database)
		return nil
	},
}

func statusTable(servers []domain.ServerInfo) ([]string, [][]string) {
	headers := []string{"ID", "STARTED", "PROCEDURES", "ENDPOINTS"}
	rows := make([][]string, len(servers))
	for i, s := range servers {
		addrs := make([]string, len(s.Endpoints))
		for j, ep := range s.Endpoints {
			addrs[j] = ep.Address
		}
		rows[i] = []string{s.ID, s.StartedAt, strconv.Itoa(s.ProcedureCount), strings.Join(addrs, ", ")}
	}
	return headers, rows
}

func printEndpoints(endpoints []domain.Endpoint) {
	rows := make([][]string, len(endpoints))
	for i, ep := range endpoints {
		rows[i] = []string{string(ep.Type), ep.Address}
	}
	printTable([]string{"TYPE", "ADDRESS"}, rows)
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, connectCmd)

	startCmd.Flags().IntVarP(&startPort, "port", "p", 3000, "Port for the default http transport")
	startCmd.Flags().StringVarP(&startHost, "host", "h", "", "Host for the default http transport")
	startCmd.Flags().StringVarP(&startURI, "uri", "u", "", "MongoDB connection URI")
	startCmd.Flags().StringVarP(&startDatabase, "database", "d", "", "MongoDB database name")
	startCmd.Flags().StringVar(&startTransports, "transports", "", "Explicit transports as a JSON array")

	connectCmd.Flags().StringVarP(&connectURI, "uri", "u", "", "MongoDB connection URI")
	connectCmd.Flags().StringVarP(&connectDatabase, "database", "d", "", "MongoDB database name")
}
