// Package main provides the mongo-admin CLI tool for managing MongoDB peer servers.
package main

import (
	"os"

	"github.com/sirosfoundation/go-server-mongo/cmd/mongo-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
