package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psgo/ps"
	"github.com/psgo/ps/internal/config"
	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/kv"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "start this node and keep it running until interrupted",
	Long:    `Start this node with the configuration set via command line flags or PS_-prefixed environment variables (e.g. PS_SCHEDULER_URI), then block until SIGINT/SIGTERM before calling Finalize.`,
	PreRunE: bindFlags,
	RunE:    run,
}

func init() {
	key := "scheduler-uri"
	runCmd.Flags().String(key, "", "scheduler hostname/address (overrides PS_SCHEDULER_URI)")
	key = "scheduler-port"
	runCmd.Flags().Int(key, 0, "scheduler port (overrides PS_SCHEDULER_PORT)")
	key = "role"
	runCmd.Flags().String(key, "", "scheduler, server, or worker (overrides PS_ROLE)")
	key = "num-worker"
	runCmd.Flags().Int(key, 0, "cluster worker count (overrides PS_NUM_WORKER)")
	key = "num-server"
	runCmd.Flags().Int(key, 0, "cluster server count (overrides PS_NUM_SERVER)")
	key = "port"
	runCmd.Flags().Int(key, 0, "this node's listen port, 0 lets the OS pick a free one (overrides PS_PORT)")
	key = "store"
	runCmd.Flags().String(key, "map", "server-side KV store backend: map or pebble")
	key = "pebble-dir"
	runCmd.Flags().String(key, "data", "directory for the pebble store, when --store=pebble")
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

// run loads configuration, brings this process into the cluster via
// ps.Start, registers a KVServer for server nodes, and blocks until a
// termination signal before calling ps.Finalize.
func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := ps.Start(cfg, 0, true); err != nil {
		return fmt.Errorf("ps: start: %w", err)
	}
	fmt.Printf("ps: node up, role=%s rank=%d servers=%d workers=%d\n",
		cfg.Role, ps.MyRank(), ps.NumServers(), ps.NumWorkers())

	if cfg.Role == message.RoleServer {
		closeStore, err := attachServer()
		if err != nil {
			return err
		}
		defer closeStore()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("ps: shutting down")
	return ps.Finalize(0, true)
}

// loadConfig bridges explicitly-set --flags into the PS_-prefixed
// environment config.FromEnv actually reads (its required-key check
// looks at os.Getenv directly, before config.Option overrides would
// ever apply), so a deployment can mix a shared .env with per-node
// flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	setEnvFromFlag(cmd, config.KeySchedulerURI, "scheduler-uri")
	setEnvFromFlag(cmd, config.KeySchedulerPort, "scheduler-port")
	setEnvFromFlag(cmd, config.KeyRole, "role")
	setEnvFromFlag(cmd, config.KeyNumWorker, "num-worker")
	setEnvFromFlag(cmd, config.KeyNumServer, "num-server")
	setEnvFromFlag(cmd, config.KeyPort, "port")

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("ps: %w", err)
	}
	return cfg, nil
}

// setEnvFromFlag copies flag into the environment variable key, only
// when the flag was actually given on the command line -- an unset
// flag must never shadow a value already set directly in the
// environment or a loaded .env file.
func setEnvFromFlag(cmd *cobra.Command, key, flag string) {
	if !cmd.Flags().Changed(flag) {
		return
	}
	_ = os.Setenv(key, viper.GetString(flag))
}

// attachServer constructs this node's KVServer (float64 values, the
// gradient/weight accumulation this spec exists for) against either the
// default in-memory store or a durable PebbleStore, and returns a
// cleanup func to run on shutdown.
func attachServer() (func(), error) {
	server := kv.NewServer[float64](0, ps.Van(), ps.PostOffice(), nil)

	if strings.ToLower(viper.GetString("store")) != "pebble" {
		return func() {}, nil
	}

	store, err := kv.OpenPebbleStore[float64](viper.GetString("pebble-dir"))
	if err != nil {
		return nil, fmt.Errorf("ps: open pebble store: %w", err)
	}
	server.SetStore(store)
	return func() { _ = store.Close() }, nil
}
