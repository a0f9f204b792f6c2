// Command ps runs one node of a parameter-server cluster: node
// lifecycle over an asynchronous transport, sharded push/pull
// key-value requests, and scheduler-mediated group barriers.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

var (
	rootCmd = &cobra.Command{
		Use:   "ps",
		Short: "parameter server core runtime node",
		Long: fmt.Sprintf(`ps (v%s)

Runs one node of a parameter-server cluster: node lifecycle over an
asynchronous transport, sharded push/pull key-value requests, and
scheduler-mediated group barriers.`, version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "print the version number of ps",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ps v%s\n", version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads .env files and wires viper to read PS_-prefixed
// environment variables, mirroring the teacher's own cmd/util
// InitClientConfig.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("ps")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
