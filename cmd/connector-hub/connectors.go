package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/goldilockshq/connector-hub/internal/agent"
	"github.com/goldilockshq/connector-hub/internal/config"
	"github.com/goldilockshq/connector-hub/internal/connectors/registry"
	"github.com/goldilockshq/connector-hub/internal/schema"
	"github.com/spf13/cobra"
)

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "Inspect connectors and user connections.",
}

var connectorsListJSON bool

var connectorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the connector catalog and its tools.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOptionalDB()
		if err != nil {
			return err
		}
		reg, err := buildConnectorRegistry(cfg, slog.New(slog.DiscardHandler), true)
		if err != nil {
			return err
		}
		if connectorsListJSON {
			return writeCatalogJSON(cmd.OutOrStdout(), reg.ListConnectors())
		}
		return writeCatalogTable(cmd.OutOrStdout(), reg.ListConnectors())
	},
}

var connectorsStatusUser string

var connectorsStatusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show the connection state of every connector for a user.",
	Args:        cobra.NoArgs,
	Annotations: structuredLogAnnotation(),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := strings.TrimSpace(connectorsStatusUser)
		if userID == "" {
			return usageError(errors.New("--user is required"))
		}
		return withServices(cmd.Context(), func(ctx context.Context, svc *services) error {
			statuses, err := svc.manager.ListStatuses(ctx, userID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONNECTOR\tSTATE\tCONNECTED\tAUTHENTICATED")
			for _, s := range statuses {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\n", s.Connector, s.State, s.IsConnected, s.IsAuthenticated)
			}
			return tw.Flush()
		})
	},
}

var (
	connectorsCallUser string
	connectorsCallTool string
	connectorsCallArgs string
)

var connectorsCallCmd = &cobra.Command{
	Use:         "call",
	Short:       "Run one tool call for a user and print the shaped result.",
	Args:        cobra.NoArgs,
	Annotations: structuredLogAnnotation(),
	RunE: func(cmd *cobra.Command, args []string) error {
		call, err := parseCallFlags(connectorsCallUser, connectorsCallTool, connectorsCallArgs)
		if err != nil {
			return usageError(err)
		}
		return withServices(cmd.Context(), func(ctx context.Context, svc *services) error {
			res, err := svc.dispatcher.Dispatch(ctx, call)
			if err != nil {
				var de *agent.DispatchError
				if errors.As(err, &de) {
					return &exitError{code: 1, err: fmt.Errorf("%s: %w", de.UserMessage(), err)}
				}
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res.Output)
		})
	},
}

func parseCallFlags(user, tool, rawArgs string) (agent.Call, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return agent.Call{}, errors.New("--user is required")
	}
	connector, function, err := agent.ParseQualifiedName(strings.TrimSpace(tool))
	if err != nil {
		return agent.Call{}, fmt.Errorf("--tool: %w", err)
	}
	arguments := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
			return agent.Call{}, fmt.Errorf("--args must be a JSON object: %w", err)
		}
	}
	return agent.Call{Connector: connector, Function: function, Arguments: arguments, UserID: user}, nil
}

func withServices(parent context.Context, fn func(ctx context.Context, svc *services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	svc, err := buildServices(parent, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(parent, svc)
}

type catalogEntry struct {
	Name        string                  `json:"name"`
	DisplayName string                  `json:"displayName"`
	Provider    string                  `json:"provider"`
	AuthFlow    registry.AuthFlow       `json:"authFlow"`
	Functions   []schema.FunctionSchema `json:"functions"`
}

func writeCatalogJSON(w io.Writer, connectors []registry.Connector) error {
	entries := make([]catalogEntry, 0, len(connectors))
	for _, c := range connectors {
		fns := make([]schema.FunctionSchema, 0, len(c.Tools))
		for _, tool := range c.Tools {
			fns = append(fns, tool.FunctionSchema(agent.QualifiedName(c.Name, tool.FunctionName)))
		}
		entries = append(entries, catalogEntry{
			Name:        c.Name,
			DisplayName: c.DisplayName,
			Provider:    c.Provider,
			AuthFlow:    c.AuthFlow,
			Functions:   fns,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func writeCatalogTable(w io.Writer, connectors []registry.Connector) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTOR\tDISPLAY NAME\tAUTH FLOW\tTOOLS")
	for _, c := range connectors {
		names := make([]string, 0, len(c.Tools))
		for _, tool := range c.Tools {
			names = append(names, tool.FunctionName)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.DisplayName, c.AuthFlow, strings.Join(names, ", "))
	}
	return tw.Flush()
}

func init() {
	connectorsCmd.AddCommand(connectorsListCmd, connectorsStatusCmd, connectorsCallCmd)

	connectorsListCmd.Flags().BoolVar(&connectorsListJSON, "json", false, "Print the catalog with function schemas as JSON")

	connectorsStatusCmd.Flags().StringVar(&connectorsStatusUser, "user", "", "User ID to report on")
	_ = connectorsStatusCmd.MarkFlagRequired("user")

	connectorsCallCmd.Flags().StringVar(&connectorsCallUser, "user", "", "User ID whose credentials are used")
	connectorsCallCmd.Flags().StringVar(&connectorsCallTool, "tool", "", "Qualified tool name, e.g. sheets__readValues")
	connectorsCallCmd.Flags().StringVar(&connectorsCallArgs, "args", "{}", "Tool arguments as a JSON object")
	_ = connectorsCallCmd.MarkFlagRequired("user")
	_ = connectorsCallCmd.MarkFlagRequired("tool")
}
