package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/disagg-serve/disagg"
)

var (
	planConfigPath string // Path to the cluster configuration YAML
	planWorldSize  int    // Global process count to plan for (0 = the topology's worker total)
	planRank       int    // Single rank to plan (-1 = all ranks)
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the deterministic rank-to-instance placement",
	Long:  "Compose the topology and print, for each global rank, the instance index, local rank, and leader flag the partitioner would compute. Purely local: no runtime is contacted.",
	Run: func(cmd *cobra.Command, args []string) {
		topology, err := disagg.LoadClusterConfig(planConfigPath)
		if err != nil {
			logrus.Fatalf("Invalid cluster config: %v", err)
		}

		total, err := topology.TotalWorkers()
		if err != nil {
			logrus.Fatalf("Invalid topology: %v", err)
		}
		worldSize := planWorldSize
		if worldSize == 0 {
			worldSize = total
		}

		ranks := make([]int, 0, worldSize)
		if planRank >= 0 {
			ranks = append(ranks, planRank)
		} else {
			for rank := 0; rank < worldSize; rank++ {
				ranks = append(ranks, rank)
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tINSTANCE\tROLE\tADDR\tLOCAL RANK\tLEADER")
		for _, rank := range ranks {
			placement, err := disagg.ComputePlacement(topology.Instances, worldSize, rank)
			if err != nil {
				logrus.Fatalf("Planning rank %d: %v", rank, err)
			}
			inst := topology.Instances[placement.InstanceIndex]
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%v\n",
				rank, placement.InstanceIndex, inst.Role, inst.Addr(), placement.LocalRank, placement.IsLeader)
		}
		if err := w.Flush(); err != nil {
			logrus.Fatalf("Writing plan: %v", err)
		}
	},
}

func init() {
	planCmd.Flags().StringVar(&planConfigPath, "config", "", "Path to the cluster configuration YAML")
	planCmd.Flags().IntVar(&planWorldSize, "world-size", 0, "Global process count to plan for (default: the topology's worker total)")
	planCmd.Flags().IntVar(&planRank, "rank", -1, "Plan a single global rank (default: all ranks)")
	_ = planCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(planCmd)
}
