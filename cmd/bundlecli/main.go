package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ligun0805/bundle-sweeper/internal/assets"
	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
	"github.com/ligun0805/bundle-sweeper/internal/chain"
	"github.com/ligun0805/bundle-sweeper/internal/config"
	"github.com/ligun0805/bundle-sweeper/internal/flashbots"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	if err := run(); err != nil {
		die(err.Error())
	}
}

func run() error {
	st := config.Load()
	reader := bufio.NewReader(os.Stdin)

	network, err := chooseNetwork(reader, st.Network)
	if err != nil {
		return err
	}
	st.ApplyNetwork(network)
	if err := askMissing(reader, &st); err != nil {
		return err
	}
	if err := st.Validate(); err != nil {
		return err
	}
	log := newLogger(st.LogLevel)

	req, err := askContracts(reader, st)
	if err != nil {
		return err
	}
	if req.Empty() {
		fmt.Println("Nothing to sweep: no contracts given.")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.Dial(ctx, st.RPCURL,
		chain.WithBaseFeeMul(st.BasefeeMul),
		chain.WithPollInterval(st.PollInterval),
		chain.WithLogger(log.WithField("component", "chain")),
	)
	if err != nil {
		return fmt.Errorf("dial RPC: %w", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if st.ChainID != 0 && chainID.Cmp(big.NewInt(st.ChainID)) != 0 {
		return fmt.Errorf("%w: RPC reports chain %s, expected %d", core.ErrFatalConfiguration, chainID, st.ChainID)
	}

	wallets, err := core.NewWallets(st.SponsorPrivateKeyHex, st.HackedPrivateKeyHex)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrFatalConfiguration, err)
	}
	printConfig(ctx, client, st, chainID, wallets)

	inv := assets.NewInventory(client.Eth(), wallets.Sweep(), st.Destination(),
		assets.WithLogger(log.WithField("component", "inventory")),
		assets.WithParallel(st.DiscoveryParallel),
		assets.WithRestrictionProbes(st.RestrictionProbes),
	)
	found, err := inv.Discover(ctx, req)
	if err != nil {
		return err
	}
	transfers := inv.Estimate(ctx, found)
	if len(transfers) == 0 {
		fmt.Println("Nothing transferable: every asset was empty, restricted or failed estimation.")
		return nil
	}
	fmt.Printf("Transfers (%d):\n", len(transfers))
	for _, t := range transfers {
		fmt.Println("  -", t)
	}
	printNetworkState(ctx, os.Stdout, client, st, transfers, wallets.Sweep())

	auth, err := flashbots.AuthKey(st.FlashbotsAuthPKHex)
	if err != nil {
		return fmt.Errorf("%w: FLASHBOTS_AUTH_PK is invalid", core.ErrFatalConfiguration)
	}
	senders, err := flashbots.Classify(st.Relays, auth)
	if err != nil {
		return err
	}
	relay, err := flashbots.NewMulti(senders, client, log.WithField("component", "relay"))
	if err != nil {
		return err
	}

	reporter := newConsoleReporter(os.Stdout, network.Explorer, st.Destination(), wallets.Sweep())
	racer := core.NewRacer(client, relay, wallets, reporter, core.Options{
		ChainID:           chainID,
		MaxAttempts:       st.MaxAttempts,
		ParallelBundles:   st.ParallelBundles,
		Policy:            st.Policy(),
		SimulateEachRound: st.SimulateEachRound,
		ResolutionTimeout: st.ResolutionTimeout,
		DrainTimeout:      st.DrainTimeout,
		RefreshTimeout:    st.RefreshTimeout,
		Refresh:           inv.Refresher(req),
		OnResolution:      reporter.observe,
		Logger:            log.WithField("component", "racer"),
	})

	if st.SimulateFirst {
		if err := preflight(ctx, client, racer, transfers, log); err != nil {
			return err
		}
	}

	_, err = racer.Run(ctx, transfers)
	return err
}

// preflight aborts on a revert only; a relay that cannot simulate is not fatal.
func preflight(ctx context.Context, client *chain.Client, racer *core.Racer, transfers []core.AssetTransfer, log *logrus.Entry) error {
	head, err := client.Eth().BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	_, err = racer.Preflight(ctx, transfers, head)
	switch {
	case err == nil:
		fmt.Println("Simulation: OK")
	case errors.Is(err, core.ErrSimulationRevert):
		fmt.Println("Simulation: FAIL")
		return err
	case errors.Is(err, flashbots.ErrSimulationUnsupported):
		log.Warn("no relay supports simulation, racing without it")
	default:
		log.WithField("error", flashbots.FriendlyError(err)).Warn("initial simulation unavailable, racing anyway")
	}
	return nil
}

func chooseNetwork(reader *bufio.Reader, preset string) (config.Network, error) {
	choice := preset
	if choice == "" {
		fmt.Println("Select network:")
		fmt.Println("  1) Ethereum Mainnet")
		fmt.Println("  2) Sepolia Testnet")
		choice = readLine(reader, "Choice [1]: ")
		if choice == "" {
			choice = "1"
		}
	}
	n, ok := config.LookupNetwork(choice)
	if !ok {
		return config.Network{}, fmt.Errorf("%w: unknown network %q", core.ErrFatalConfiguration, choice)
	}
	return n, nil
}

func askMissing(reader *bufio.Reader, st *config.Settings) error {
	var err error
	if st.SponsorPrivateKeyHex == "" {
		if st.SponsorPrivateKeyHex, err = readPassword("Sponsor (gas funding) private key: "); err != nil {
			return err
		}
	}
	if st.HackedPrivateKeyHex == "" {
		if st.HackedPrivateKeyHex, err = readPassword("Compromised wallet private key: "); err != nil {
			return err
		}
	}
	if st.SafeWalletAddress == "" {
		st.SafeWalletAddress = readLine(reader, "Safe wallet address (destination): ")
	}
	return nil
}

func askContracts(reader *bufio.Reader, st config.Settings) (assets.Request, error) {
	ask := func(preset, prompt string) string {
		if preset != "" {
			return preset
		}
		return readLine(reader, prompt)
	}
	var req assets.Request
	var err error
	if req.Fungible, err = parseAddresses(ask(st.ERC20Contracts, "ERC-20 contracts (comma-separated, empty to skip): ")); err != nil {
		return req, fmt.Errorf("%w: %v", core.ErrFatalConfiguration, err)
	}
	if req.NonFungible, err = parseNFTContracts(ask(st.ERC721Contracts, "ERC-721 contracts (0xNFT[:id|id], comma-separated, empty to skip): ")); err != nil {
		return req, fmt.Errorf("%w: %v", core.ErrFatalConfiguration, err)
	}
	if req.Claimable, err = parseAddresses(ask(st.AirdropContracts, "Airdrop contracts (comma-separated, empty to skip): ")); err != nil {
		return req, fmt.Errorf("%w: %v", core.ErrFatalConfiguration, err)
	}
	return req, nil
}

func newLogger(level string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return logrus.NewEntry(l)
}

func printConfig(ctx context.Context, client *chain.Client, st config.Settings, chainID *big.Int, w *core.Wallets) {
	sponsorBal, _ := client.Eth().BalanceAt(ctx, w.Funding(), nil)
	maxBoost := "uncapped"
	if st.MaxFeeBoostGwei > 0 {
		maxBoost = fmt.Sprintf("%d gwei", st.MaxFeeBoostGwei)
	}
	fmt.Println("=== CONFIG ===")
	fmt.Println("Network             :", st.Network)
	fmt.Println("RPC_URL             :", st.RPCURL)
	fmt.Println("CHAIN_ID            :", chainID.String())
	fmt.Println("RELAYS              :", st.Relays)
	fmt.Println("FLASHBOTS_AUTH_PK   :", masked(st.FlashbotsAuthPKHex))
	fmt.Println("PRIVATE_KEY_SPONSOR :", masked(st.SponsorPrivateKeyHex))
	fmt.Println("  -> sponsor        :", w.Funding().Hex())
	fmt.Println("  -> balance        :", core.FormatETH(sponsorBal), "ETH")
	fmt.Println("PRIVATE_KEY_HACKED  :", masked(st.HackedPrivateKeyHex))
	fmt.Println("  -> compromised    :", w.Sweep().Hex())
	fmt.Println("SAFE_WALLET_ADDRESS :", st.Destination().Hex())
	fmt.Println("MaxAttempts         :", st.MaxAttempts)
	fmt.Println("ParallelBundles     :", st.ParallelBundles)
	fmt.Printf("Fee boost           : %d gwei + %d gwei/%s step (cap %s)\n", st.InitialFeeBoostGwei, st.FeeStepGwei, st.FeeStepMode, maxBoost)
	fmt.Println("BaseFeeMul          :", st.BasefeeMul)
	fmt.Println("Simulate first/each :", st.SimulateFirst, "/", st.SimulateEachRound)
	fmt.Println("==============")
}
