package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/disagg-serve/disagg"
	"github.com/inference-sim/disagg-serve/disagg/metadata"
)

var (
	validateConfigPath   string // Path to the cluster configuration YAML
	validateMetadataPath string // Path to the metadata service configuration YAML (optional)
	validateCheckHealth  bool   // Probe the metadata service after loading its config
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compose and validate a disaggregated serving topology",
	Long:  "Load the cluster configuration snapshot, run the full composition pipeline, and report the resulting topology. Exits nonzero on any configuration fault.",
	Run: func(cmd *cobra.Command, args []string) {
		topology, err := disagg.LoadClusterConfig(validateConfigPath)
		if err != nil {
			logrus.Fatalf("Invalid cluster config: %v", err)
		}

		total, err := topology.TotalWorkers()
		if err != nil {
			logrus.Fatalf("Invalid topology: %v", err)
		}

		logrus.Infof("listen address: %s:%d, max_retries: %d", topology.Hostname, topology.Port, topology.MaxRetries)
		logrus.Infof("context router: %s, generation router: %s", topology.ContextRouter.Kind, topology.GenerationRouter.Kind)
		if topology.ConditionalDisagg != nil {
			logrus.Infof("conditional disaggregation: max_local_prefill_length=%d", topology.ConditionalDisagg.MaxLocalPrefillLength)
		}
		for i, inst := range topology.Instances {
			logrus.Infof("instance %d: role=%s addr=%s processes=%d", i, inst.Role, inst.Addr(), inst.ProcessCount)
		}
		logrus.Infof("topology valid: %d instances, %d worker processes required", len(topology.Instances), total)

		if validateMetadataPath != "" {
			metaCfg, err := metadata.LoadConfig(validateMetadataPath)
			if err != nil {
				logrus.Fatalf("Invalid metadata config: %v", err)
			}
			logrus.Infof("metadata service: %s at %s (health_check_timeout=%.1fs, refresh_interval=%.1fs)",
				metaCfg.ServerType, metaCfg.Endpoint(), metaCfg.HealthCheckTimeout, metaCfg.RefreshInterval)

			if validateCheckHealth {
				registry, err := metadata.NewRegistry(metaCfg, nil)
				if err != nil {
					logrus.Fatalf("Connecting to metadata service: %v", err)
				}
				defer registry.Close()
				if err := registry.HealthCheck(context.Background()); err != nil {
					logrus.Fatalf("Metadata service unhealthy: %v", err)
				}
				logrus.Info("metadata service healthy")
			}
		}
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "", "Path to the cluster configuration YAML")
	validateCmd.Flags().StringVar(&validateMetadataPath, "metadata", "", "Path to the metadata service configuration YAML")
	validateCmd.Flags().BoolVar(&validateCheckHealth, "check-health", false, "Probe the metadata service after validating its config")
	_ = validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(validateCmd)
}
