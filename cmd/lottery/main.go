package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "lottery",
		Short:         "Custodial lottery round manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default $CONFIG_PATH or configs/config.yaml)")

	root.AddCommand(
		KeygenCmd(),
		FundCmd(),
		InitCmd(),
		DepositCmd(),
		RolloverCmd(),
		StatusCmd(),
		RunCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
