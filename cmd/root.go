package cmd

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KemoDesignz/dev-vm/config"
)

var (
	cfgFile    string
	flagYes    bool
	flagDryRun bool
	conf       *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devvm",
		Short: "devvm - provision and repair a local development VM",
		Long: "devvm drives a Vagrant/VirtualBox development machine preloaded\n" +
			"with Docker, k3s and CLI tooling, and reconciles it back to a\n" +
			"healthy state when it drifts.",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig()
		},
		RunE: runMenu,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "tool config file path")
	cmd.PersistentFlags().BoolVar(&flagYes, "yes", false, "answer yes to every confirmation")
	cmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "print external commands instead of executing them")
	cmd.PersistentFlags().String("workspace", "", "workspace directory")
	cmd.PersistentFlags().String("log-dir", "", "log directory")

	_ = viper.BindPFlag("workspace_dir", cmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("log_dir", cmd.PersistentFlags().Lookup("log-dir"))

	viper.SetEnvPrefix("DEVVM")
	viper.AutomaticEnv()

	cmd.AddCommand(
		setupCmd,
		provisionCmd,
		repairCmd,
		healthCmd,
		updateCmd,
		cleanupCmd,
		sshCmd,
		versionCmd,
	)

	return cmd
}()

func initConfig() error {
	conf = config.DefaultConfig()

	// Registering defaults makes every key reachable from flags, env
	// (DEVVM_*) and the optional config file alike.
	for key, value := range map[string]any{
		"workspace_dir":                    conf.WorkspaceDir,
		"config_dir":                       conf.ConfigDir,
		"log_dir":                          conf.LogDir,
		"vagrant_binary":                   conf.VagrantBinary,
		"vboxmanage_binary":                conf.VBoxManageBinary,
		"boot_timeout_seconds":             conf.BootTimeoutSeconds,
		"connect_timeout_seconds":          conf.ConnectTimeoutSeconds,
		"node_ready_attempts":              conf.NodeReadyAttempts,
		"node_ready_interval_seconds":      conf.NodeReadyIntervalSeconds,
		"kubeconfig_wait_attempts":         conf.KubeconfigWaitAttempts,
		"kubeconfig_wait_interval_seconds": conf.KubeconfigWaitIntervalSeconds,
		"disk_critical_percent":            conf.DiskCriticalPercent,
		"gate_on_vm_state":                 conf.GateOnVMState,
		"auto_install_host_tools":          conf.AutoInstallHostTools,
	} {
		viper.SetDefault(key, value)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	_ = viper.ReadInConfig() // optional; missing file is OK

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	return log.SetupLog(context.Background(), &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := newCommandContext()
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
