package main

import (
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	lotmint "github.com/lotmint/lotmint"
	"github.com/lotmint/lotmint/httpapi"
	"github.com/lotmint/lotmint/ledger/bank"
	"github.com/lotmint/lotmint/ledger/erc20"
	"github.com/lotmint/lotmint/oracle/sim"
	"github.com/lotmint/lotmint/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the mint HTTP API",
	Long: `Serve loads the mint state from the SQLite database and exposes the
purchase, query, admin, and oracle webhook surfaces over HTTP.

The payment ledger is selected by the "ledger" key: "bank" runs an
in-memory ledger for development, "erc20" charges a real token contract
over JSON-RPC and requires eth.rpc, eth.chain_id, and eth.private_key.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8402", "HTTP listen address")
	serveCmd.Flags().String("ledger", "bank", `Payment ledger backend ("bank" or "erc20")`)
	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("ledger", serveCmd.Flags().Lookup("ledger"))

	viper.SetDefault("gate", "")
	viper.SetDefault("admin_key", "")
	viper.SetDefault("oracle.key", "")
	viper.SetDefault("oracle.fee", "1")
	viper.SetDefault("oracle.reserve", "0")
	viper.SetDefault("oracle.auto_deliver", "0s")
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := store.OpenSQLite(viper.GetString("db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	state, err := st.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	ledger, gate, err := buildLedger(state.Config.Asset)
	if err != nil {
		return err
	}

	fee, ok := new(big.Int).SetString(viper.GetString("oracle.fee"), 10)
	if !ok {
		return fmt.Errorf("invalid oracle.fee %q", viper.GetString("oracle.fee"))
	}
	oracleAddr := common.HexToAddress(viper.GetString("oracle.address"))

	var oracleOpts []sim.Option
	if delay := viper.GetDuration("oracle.auto_deliver"); delay > 0 {
		oracleOpts = append(oracleOpts, sim.WithAutoDeliver(delay))
	}
	oracle := sim.New(oracleAddr, fee, oracleOpts...)
	if reserve, ok := new(big.Int).SetString(viper.GetString("oracle.reserve"), 10); ok && reserve.Sign() > 0 {
		oracle.Fund(reserve)
	}

	svc, err := lotmint.NewService(st, ledger, oracle,
		lotmint.WithGateAddress(gate),
		lotmint.WithOracleCaller(oracleAddr),
	)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	oracle.Bind(svc)

	server := httpapi.New(svc,
		httpapi.WithAdminKey(viper.GetString("admin_key")),
		httpapi.WithOracleKey(viper.GetString("oracle.key")),
		httpapi.WithOracleCaller(oracleAddr),
	)

	listen := viper.GetString("listen")
	log.Printf("lotmintd %s listening on %s (ledger=%s, remaining=%d)",
		rootCmd.Version, listen, viper.GetString("ledger"), svc.Remaining())
	return server.Run(listen)
}

// buildLedger constructs the configured payment ledger and the gate address
// allowed to spend buyer allowances.
func buildLedger(asset common.Address) (lotmint.AssetLedger, common.Address, error) {
	switch viper.GetString("ledger") {
	case "bank":
		return bank.New(), common.HexToAddress(viper.GetString("gate")), nil

	case "erc20":
		chainID, ok := new(big.Int).SetString(viper.GetString("eth.chain_id"), 10)
		if !ok {
			return nil, common.Address{}, fmt.Errorf("invalid eth.chain_id %q", viper.GetString("eth.chain_id"))
		}
		client, err := ethclient.Dial(viper.GetString("eth.rpc"))
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("dial eth.rpc: %w", err)
		}
		signer, err := erc20.NewKeySigner(viper.GetString("eth.private_key"), chainID)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("eth.private_key: %w", err)
		}
		ledger, err := erc20.New(asset, chainID, client, signer)
		if err != nil {
			return nil, common.Address{}, err
		}
		return ledger, signer.Address(), nil

	default:
		return nil, common.Address{}, fmt.Errorf("unknown ledger backend %q", viper.GetString("ledger"))
	}
}
