package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lotmint/lotmint/config"
	"github.com/lotmint/lotmint/store"
)

var genesisFlag string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the state database from a genesis document",
	Long: `Init validates the genesis document, creates the SQLite state database,
and seeds it with the administrator, the payment configuration, and the
initial lot ranges. It refuses to run against an already initialized
database.`,
	RunE: runInit,
}

var bumpVersionCmd = &cobra.Command{
	Use:   "bump-version",
	Short: "Increment the stored schema version after an upgrade",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.OpenSQLite(viper.GetString("db"))
		if err != nil {
			return err
		}
		defer st.Close()

		version, err := st.BumpVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("version: %d\n", version)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&genesisFlag, "genesis", "genesis.json", "Path to the genesis document")
}

func runInit(cmd *cobra.Command, args []string) error {
	genesis, err := config.LoadGenesis(genesisFlag)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	st, err := store.OpenSQLite(viper.GetString("db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Initialize(cmd.Context(), *genesis); err != nil {
		return err
	}

	capacity := uint64(0)
	for _, r := range genesis.Ranges {
		capacity += r.Len()
	}
	fmt.Printf("initialized %s: admin=%s lots=%d price=%s\n",
		viper.GetString("db"), genesis.Admin.Hex(), capacity, genesis.UnitPrice)
	return nil
}
