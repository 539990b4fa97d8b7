package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/couchbase/stellar-topology/topology"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var selectMode string
var selectTagSets []string
var selectTimeout time.Duration

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Selects a single server and prints its endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		startSelect()
	},
}

func init() {
	selectCmd.Flags().StringVar(&selectMode, "mode", "primary", "read preference mode, or write for the write selector")
	selectCmd.Flags().StringArrayVar(&selectTagSets, "tag-set", nil, "tag set to prefer as key=value pairs, may be repeated")
	selectCmd.Flags().DurationVar(&selectTimeout, "timeout", 0, "how long to wait for a suitable server")
}

func buildSelector(mode string, tagSetStrs []string) (topology.ServerSelector, error) {
	if mode == "write" {
		if len(tagSetStrs) > 0 {
			return nil, fmt.Errorf("tag sets cannot be used with the write selector")
		}
		return topology.WriteSelector, nil
	}

	parsedMode, err := topology.ParseReadPreferenceMode(mode)
	if err != nil {
		return nil, err
	}

	tagSets := make([]map[string]string, 0, len(tagSetStrs))
	for _, tagSetStr := range tagSetStrs {
		tagSet, err := parseTagSet(tagSetStr)
		if err != nil {
			return nil, err
		}
		tagSets = append(tagSets, tagSet)
	}

	return topology.ReadPreferenceSelector(parsedMode, tagSets...), nil
}

func startSelect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startApp(ctx, "select")
	logger := a.logger

	selector, err := buildSelector(selectMode, selectTagSets)
	if err != nil {
		logger.Error("invalid selector", zap.Error(err))
		a.Close()
		os.Exit(1)
	}

	var deadline time.Time
	if selectTimeout > 0 {
		deadline = time.Now().Add(selectTimeout)
	}

	server, err := a.cluster.SelectServer(ctx, selector, deadline)
	if err != nil {
		logger.Error("failed to select a server", zap.Error(err))
		a.Close()
		os.Exit(1)
	}

	logger.Info("selected server", zap.Object("server", server))
	fmt.Println(server.ID.Endpoint)

	a.Close()
}
