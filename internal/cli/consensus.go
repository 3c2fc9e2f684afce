package cli

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goXRPLd/internal/config"
	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/objectstore"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/rcl"
	"github.com/LeJamon/goXRPLd/internal/core/ledger/manager"
)

var (
	dataDir        string
	validationSeed string
	networkQuorum  uint32
	ledgerSeconds  int
	tickInterval   time.Duration
)

// consensusCmd drives a standalone ledger-consensus engine against the
// pebble object store: no overlay networking, just this node acquiring
// (trivially, from itself) and closing ledgers on its own schedule. It
// exists for manual exercise and integration testing of the consensus
// core in isolation from the peer-protocol layer, which is out of scope
// for this module.
var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Run a standalone ledger-consensus engine",
	Long: `Run a single-node instance of the ledger-consensus core
(LedgerConsensus/LedgerAcquire/NetworkOPs/ValidationCollection) against a
local PebbleDB object store, with no peer connections. Useful for
exercising the consensus round machinery end to end.`,
	RunE: runConsensus,
}

func init() {
	rootCmd.AddCommand(consensusCmd)

	consensusCmd.Flags().StringVar(&dataDir, "data-dir", "./xrpld-data", "data directory for the pebble object store")
	consensusCmd.Flags().StringVar(&validationSeed, "validation-seed", "", "validator signing seed; empty runs as an observer (no validations produced)")
	consensusCmd.Flags().Uint32Var(&networkQuorum, "network-quorum", 1, "minimum peer count to leave the disconnected state")
	consensusCmd.Flags().IntVar(&ledgerSeconds, "ledger-seconds", 4, "target inter-close interval in seconds")
	consensusCmd.Flags().DurationVar(&tickInterval, "tick", time.Second, "NetworkOPs timer cadence")
}

func runConsensus(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stdout, "xrpld: ", log.LstdFlags)
	if quiet {
		logger.SetOutput(os.Stderr)
	}

	storePath := filepath.Join(dataDir, "objectstore")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := objectstore.Open(storePath)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	defer store.Close()

	ledgers, err := manager.NewLedgerCache(manager.LedgerCacheConfig{}, store)
	if err != nil {
		return fmt.Errorf("build ledger cache: %w", err)
	}

	signer, err := rcl.NewSigner([]byte(validationSeed), rcl.NewStaticPubKeyDirectory(nil))
	if err != nil {
		return fmt.Errorf("build signer: %w", err)
	}

	cfg := &config.Config{
		NetworkQuorum: networkQuorum,
		LedgerSeconds: ledgerSeconds,
	}
	opts := cfg.ConsensusOptions()
	opts.ValidationSeed = validationSeed

	env := &rcl.Environment{
		Peers:       &noopPeerDirectory{self: signer.NodeID()},
		Nodes:       store,
		Ledgers:     ledgers,
		Validations: rcl.NewValidationCollection(),
		TxEngine:    noopTxEngine{},
		TxIndex:     noopTxIndexWriter{},
		Signer:      signer,
		Options:     opts,
		Logger:      logger,
	}

	genesis, err := genesisLedger()
	if err != nil {
		return fmt.Errorf("build genesis ledger: %w", err)
	}
	if existing, ok := ledgers.FetchLedgerHeader(genesis.Hash()); ok {
		genesis.Header = existing
	} else if err := ledgers.StoreLedger(genesis); err != nil {
		return fmt.Errorf("store genesis ledger: %w", err)
	}

	lam := rcl.NewLedgerAcquireMaster(env)
	tam := rcl.NewTransactionAcquireMaster(env)
	trusted := func(consensus.NodeID) bool { return opts.IsValidating() }
	ops := rcl.NewNetworkOPs(env, lam, tam, trusted, genesis)

	if !quiet {
		logger.Printf("standalone consensus node %x starting, validating=%v", signer.NodeID(), opts.IsValidating())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if !quiet {
				logger.Printf("shutting down, last closed ledger seq=%d", ops.CurrentLedger().Seq())
			}
			return nil
		case <-ticker.C:
			ops.Tick()
		}
	}
}
