// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/novatechflow/streamadmin/internal/config"
	"github.com/novatechflow/streamadmin/pkg/admin"
	"github.com/novatechflow/streamadmin/pkg/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "streamadmin",
		Short:        "Stream and consumer group administration",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("STREAMADMIN_CONFIG"), "path to the YAML configuration file")

	// withAdmin loads the configuration, builds the runtime, and tears it down
	// after fn returns.
	withAdmin := func(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel, logOut)
		rt, err := buildRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				logger.Warn("shutdown runtime", "error", err)
			}
		}()
		return fn(cmd.Context(), rt)
	}

	var properties []string
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a stream unless it already exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProperties(properties)
			if err != nil {
				return err
			}
			return withAdmin(cmd, func(ctx context.Context, rt *runtime) error {
				cfg, err := rt.admin.Create(ctx, args[0], props)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), describeOutput(cfg))
			})
		},
	}
	createCmd.Flags().StringArrayVarP(&properties, "property", "p", nil,
		fmt.Sprintf("stream property KEY=VALUE (%s, %s in ms)", stream.PropertyPartitionDuration, stream.PropertyIndexInterval))
	rootCmd.AddCommand(createCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "exists NAME",
		Short: "Report whether a stream exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, rt *runtime) error {
				fmt.Fprintln(cmd.OutOrStdout(), rt.admin.Exists(ctx, args[0]))
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "describe NAME",
		Short: "Print the stream descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, rt *runtime) error {
				cfg, err := rt.admin.Config(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), describeOutput(cfg))
			})
		},
	})

	var (
		groupID   uint64
		instances int
	)
	instancesCmd := &cobra.Command{
		Use:   "configure-instances NAME",
		Short: "Resize one consumer group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, rt *runtime) error {
				result, err := rt.admin.ConfigureInstances(ctx, args[0], groupID, instances)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toReconfigurationOutput(result))
			})
		},
	}
	instancesCmd.Flags().Uint64Var(&groupID, "group", 0, "consumer group id")
	instancesCmd.Flags().IntVar(&instances, "instances", 0, "number of consumer instances")
	_ = instancesCmd.MarkFlagRequired("group")
	_ = instancesCmd.MarkFlagRequired("instances")
	rootCmd.AddCommand(instancesCmd)

	var groups []string
	groupsCmd := &cobra.Command{
		Use:   "configure-groups NAME",
		Short: "Set every consumer group of a stream; groups left out lose their offsets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupInfo, err := parseGroupInfo(groups)
			if err != nil {
				return err
			}
			return withAdmin(cmd, func(ctx context.Context, rt *runtime) error {
				result, err := rt.admin.ConfigureGroups(ctx, args[0], groupInfo)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toReconfigurationOutput(result))
			})
		},
	}
	groupsCmd.Flags().StringArrayVarP(&groups, "group", "g", nil, "consumer group GROUP=INSTANCES, repeatable")
	rootCmd.AddCommand(groupsCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "drop NAME",
		Short: "Drop a stream (not supported yet, no-op)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, rt *runtime) error {
				return rt.admin.Drop(ctx, args[0])
			})
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "truncate NAME",
		Short: "Truncate a stream (not supported yet, no-op)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, rt *runtime) error {
				return rt.admin.Truncate(ctx, args[0])
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve metrics, health checks, and gRPC health until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, rt *runtime) error {
				return serve(ctx, rt)
			})
		},
	})
	return rootCmd
}

func newLogger(level string, out io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	})
	return slog.New(handler).With("component", "streamadmin")
}

func parseProperties(raw []string) (map[string]string, error) {
	props := make(map[string]string, len(raw))
	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("property %q must be KEY=VALUE", entry)
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props, nil
}

func parseGroupInfo(raw []string) (map[uint64]int, error) {
	info := make(map[uint64]int, len(raw))
	for _, entry := range raw {
		groupPart, countPart, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("group %q must be GROUP=INSTANCES", entry)
		}
		groupID, err := strconv.ParseUint(strings.TrimSpace(groupPart), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("group %q: invalid id: %w", entry, err)
		}
		count, err := strconv.Atoi(strings.TrimSpace(countPart))
		if err != nil {
			return nil, fmt.Errorf("group %q: invalid instance count: %w", entry, err)
		}
		if _, dup := info[groupID]; dup {
			return nil, fmt.Errorf("group %d given twice", groupID)
		}
		info[groupID] = count
	}
	return info, nil
}

type streamOutput struct {
	Name                string `json:"name"`
	PartitionDurationMS int64  `json:"partitionDuration"`
	IndexIntervalMS     int64  `json:"indexInterval"`
	Location            string `json:"location"`
}

func describeOutput(cfg stream.Config) streamOutput {
	return streamOutput{
		Name:                cfg.Name,
		PartitionDurationMS: cfg.PartitionDuration.Milliseconds(),
		IndexIntervalMS:     cfg.IndexInterval.Milliseconds(),
		Location:            cfg.Location,
	}
}

type stateOutput struct {
	Group    uint64            `json:"group"`
	Instance int               `json:"instance"`
	Offsets  map[string]uint64 `json:"offsets"`
}

type reconfigurationOutput struct {
	Stream          string        `json:"stream"`
	Saved           []stateOutput `json:"saved"`
	Removed         []stateOutput `json:"removed"`
	DiscardedGroups []uint64      `json:"discardedGroups,omitempty"`
}

func toReconfigurationOutput(result admin.Reconfiguration) reconfigurationOutput {
	return reconfigurationOutput{
		Stream:          result.Stream,
		Saved:           statesOutput(result.Saved),
		Removed:         statesOutput(result.Removed),
		DiscardedGroups: result.DiscardedGroups,
	}
}

func statesOutput(states []stream.ConsumerState) []stateOutput {
	out := make([]stateOutput, 0, len(states))
	for _, state := range states {
		offsets := make(map[string]uint64, len(state.Offsets))
		for _, off := range state.Offsets {
			offsets[off.FileID] = off.Offset
		}
		out = append(out, stateOutput{Group: state.GroupID, Instance: state.InstanceID, Offsets: offsets})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Instance < out[j].Instance
	})
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shutdownTimeout bounds graceful shutdown of the serve listeners.
const shutdownTimeout = 2 * time.Second
