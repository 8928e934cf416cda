package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage site profiles (URL patterns, form frames, vocabulary)",
}

var profilesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Publish the profiles listed in a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := a.profiles.ImportYAML(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d profiles\n", n)
		return nil
	},
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles as JSON lines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		list, err := a.profiles.List(cmd.Context(), 0)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, p := range list {
			if err := enc.Encode(p); err != nil {
				return err
			}
		}
		return nil
	},
}

var profilesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Profile and failure report counts, degraded sites",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		st, err := a.profiles.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(st)
	},
}

var profilesMCPCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the profile review tools over MCP on stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		srv := mcp.NewServer(&mcp.Implementation{Name: "applyflow-profiles", Version: "1.0.0"}, nil)
		a.profiles.RegisterMCP(srv)
		return srv.Run(cmd.Context(), &mcp.StdioTransport{})
	},
}

func init() {
	profilesCmd.AddCommand(profilesImportCmd, profilesListCmd, profilesStatsCmd, profilesMCPCmd)
}
