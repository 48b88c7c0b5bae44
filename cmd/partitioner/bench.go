package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sharding-experiment/blockpartitioner/internal/keyspace"
	"github.com/sharding-experiment/blockpartitioner/internal/network"
	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
	"github.com/sharding-experiment/blockpartitioner/internal/workload"
)

const (
	txnsF     = "txns"
	accountsF = "accounts"
	hotRatioF = "hot-ratio"
	seedF     = "seed"
	remoteF   = "remote"
)

func newBenchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Partition a synthetic block and print the plan layout",
		Long: `Generates a reproducible block of peer-to-peer transfers, partitions it and prints
how many transactions landed in every round and shard.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			txns, _ := cmd.Flags().GetInt(txnsF)
			accounts, _ := cmd.Flags().GetInt(accountsF)
			hotRatio, _ := cmd.Flags().GetFloat64(hotRatioF)
			seed, _ := cmd.Flags().GetInt64(seedF)
			if accounts < 2 {
				return fmt.Errorf("--%s must be at least 2, got %d", accountsF, accounts)
			}
			if hotRatio < 0 || hotRatio > 1 {
				return fmt.Errorf("--%s must be within [0, 1], got %v", hotRatioF, hotRatio)
			}
			remote, _ := cmd.Flags().GetString(remoteF)
			gen := workload.Generator{NumAccounts: accounts, HotRatio: hotRatio, Seed: seed}
			return a.bench(cmd.Context(), cmd.OutOrStdout(), gen, txns, remote)
		},
	}
	cmd.Flags().Int(txnsF, 1000, "Transactions in the block")
	cmd.Flags().Int(accountsF, 200, "Distinct accounts")
	cmd.Flags().Float64(hotRatioF, 0.1, "Share of transfers paying the hot account")
	cmd.Flags().Int64(seedF, 1, "Workload seed")
	cmd.Flags().String(remoteF, "", "Partition on a running service at this URL instead of in process")
	return cmd
}

func (a *app) bench(ctx context.Context, out io.Writer, gen workload.Generator, n int, remote string) error {
	block := gen.Block(n)

	start := time.Now()
	var (
		plan []protocol.SubBlocksForShard
		err  error
	)
	if remote != "" {
		plan, err = a.partitionRemotely(ctx, remote, block)
	} else {
		plan, err = a.partitionLocally(block)
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	a.logger.Infow("Bench: block partitioned", "txns", n, "remote", remote, "elapsed", elapsed)
	renderPlan(out, plan, len(plan))
	fmt.Fprintf(out, "plan %s, %d cross-shard edges, partitioned in %s\n",
		protocol.PlanHash(plan).Hex(), countRequiredEdges(plan), elapsed)
	return nil
}

func (a *app) partitionLocally(block []protocol.AnalyzedTransaction) (plan []protocol.SubBlocksForShard, err error) {
	p := a.newPartitioner()
	defer func() {
		if closeErr := p.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close partitioner: %w", closeErr)
		}
	}()

	session := keyspace.NewSession()
	annotated := session.Annotate(block)
	return p.Partition(annotated, a.cfg.ShardNum, session.NumKeys()), nil
}

func (a *app) partitionRemotely(ctx context.Context, url string, block []protocol.AnalyzedTransaction) ([]protocol.SubBlocksForShard, error) {
	client := network.NewClient(url, network.NewHTTPClient(a.cfg.Network, network.DefaultTimeout))
	resp, err := client.Partition(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("remote partition: %w", err)
	}
	a.logger.Debugw("Bench: remote plan received", "request", resp.RequestID, "plan", resp.PlanHash.Hex())
	return resp.Shards, nil
}

// renderPlan prints one row per round with the transaction count of each shard
func renderPlan(out io.Writer, plan []protocol.SubBlocksForShard, numShards int) {
	header := []string{"Round"}
	for shardID := 0; shardID < numShards; shardID++ {
		header = append(header, fmt.Sprintf("Shard %d", shardID))
	}
	header = append(header, "Total")

	table := tablewriter.NewWriter(out)
	table.SetHeader(header)

	rounds := protocol.NumRounds(plan)
	shardTotals := make([]int, numShards)
	total := 0
	for roundID := 0; roundID < rounds; roundID++ {
		row := []string{strconv.Itoa(roundID)}
		roundTotal := 0
		for shardID := range plan {
			n := 0
			if block := plan[shardID].SubBlock(roundID); block != nil {
				n = block.NumTxns()
			}
			row = append(row, strconv.Itoa(n))
			roundTotal += n
			shardTotals[shardID] += n
		}
		row = append(row, strconv.Itoa(roundTotal))
		table.Append(row)
		total += roundTotal
	}

	footer := []string{"Total"}
	for _, n := range shardTotals {
		footer = append(footer, strconv.Itoa(n))
	}
	footer = append(footer, strconv.Itoa(total))
	table.SetFooter(footer)
	table.Render()
}

func countRequiredEdges(plan []protocol.SubBlocksForShard) int {
	n := 0
	for _, shard := range plan {
		for _, entry := range shard.Entries() {
			n += len(entry.Deps.RequiredEdges)
		}
	}
	return n
}
