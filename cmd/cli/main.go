package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"dataflow/internal/cli/client"
	"dataflow/internal/cli/cmd"
	"dataflow/internal/common"

	"github.com/spf13/cobra"
)

func main() {
	common.InitConf()

	var server string
	rootCmd := &cobra.Command{
		Use:           "dataflow",
		Short:         "Operate pipelines on a dataflow server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			client.SetServerURL(server)
		},
	}
	rootCmd.PersistentFlags().StringVar(&server, "server", common.GetConfig().ServerURL, "Server base URL")
	cmd.RegisterCommands(rootCmd)

	if len(os.Args) > 1 {
		if err := rootCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	startInteractiveMode(rootCmd)
}

func startInteractiveMode(rootCmd *cobra.Command) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Dataflow CLI - Type 'help' to show help, 'exit' or 'quit' to quit")
	fmt.Print(">> ")

	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			fmt.Print(">> ")
			continue
		}
		if input == "help" {
			rootCmd.Help()
			fmt.Print(">> ")
			continue
		}

		rootCmd.SetArgs(strings.Fields(input))
		if err := rootCmd.Execute(); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		fmt.Print(">> ")
	}
}
