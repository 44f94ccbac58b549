package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hxrts/aura-sub001/consensus"
	"github.com/hxrts/aura-sub001/lib"
	"github.com/hxrts/aura-sub001/lib/crypto"
	"github.com/hxrts/aura-sub001/p2p"
	"github.com/hxrts/aura-sub001/store"
)

/*
	sim runs a full witness network in one process: threshold key generation, an in-process
	transport, one replica per witness, and a batch of concurrent consensus instances started
	from rotating initiators. It exists to exercise the protocol end to end and print the
	replicas' statistics.
*/

var (
	witnessCount  int
	threshold     int
	instanceCount int
	logLevel      string
	sampling      string
	pipelining    bool
	durable       bool
	dataDir       string
	decideWithin  time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sim",
	Short: "run an in-process consensus witness network",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().IntVarP(&witnessCount, "witnesses", "n", 5, "number of witnesses")
	rootCmd.Flags().IntVarP(&threshold, "threshold", "t", 3, "signature threshold")
	rootCmd.Flags().IntVarP(&instanceCount, "instances", "i", 10, "number of consensus instances to run")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug | info | warn | error")
	rootCmd.Flags().StringVar(&sampling, "sampling", "random", "gossip peer sampling: random | rendezvous")
	rootCmd.Flags().BoolVar(&pipelining, "pipelining", true, "enable nonce commitment pipelining")
	rootCmd.Flags().BoolVar(&durable, "durable", false, "persist commit facts to badger instead of memory")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", lib.DefaultDataDirPath(), "data directory for durable runs")
	rootCmd.Flags().DurationVar(&decideWithin, "decide-within", 30*time.Second, "per-instance decision deadline")
}

func run() error {
	config := lib.DefaultConfig()
	config.LogLevel = logLevel
	config.PeerSampling = sampling
	config.EnablePipelining = pipelining
	config.DataDir = dataDir
	log := lib.NewLogger(lib.LoggerConfig{Level: lib.ParseLogLevel(config.LogLevel), Out: os.Stdout})

	signers, err := crypto.NewThresholdKeygen(threshold, witnessCount)
	if err != nil {
		return err
	}
	network := p2p.NewNetwork(log)
	defer network.Shutdown()
	epochs := consensus.NewManualEpochSource(1)
	prestate := []byte("genesis")

	witnesses := make([]uint64, witnessCount)
	for i := range witnesses {
		witnesses[i] = uint64(signers[i].Index())
	}
	replicas := make([]*consensus.Replica, witnessCount)
	for i, signer := range signers {
		id := uint64(signer.Index())
		facts, e := newStore(config, id, log)
		if e != nil {
			return e
		}
		var replica *consensus.Replica
		peer := network.Join(id, func(msg *consensus.Message) {
			if handleErr := replica.HandleMessage(msg); handleErr != nil {
				log.Debugf("witness %d: %s", id, handleErr.Error())
			}
		})
		replica, e = consensus.New(config, id, witnesses, signer, peer, facts, epochs, log)
		if e != nil {
			return e
		}
		replica.SetPrestate(prestate)
		replica.Start()
		defer replica.Stop()
		replicas[i] = replica
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < instanceCount; i++ {
		initiator := replicas[i%len(replicas)]
		operation := []byte(fmt.Sprintf("operation-%d", i))
		g.Go(func() error {
			instanceId, startErr := initiator.StartInstance(operation)
			if startErr != nil {
				return startErr
			}
			return awaitDecision(ctx, replicas, instanceId)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, replica := range replicas {
		bz, _ := lib.MarshalJSONIndent(replica.Stats())
		fmt.Println(string(bz))
	}
	return nil
}

// awaitDecision() polls until every replica has decided the instance or the deadline hits
func awaitDecision(ctx context.Context, replicas []*consensus.Replica, instanceId lib.HexBytes) error {
	deadline := time.After(decideWithin)
	for {
		decided := 0
		for _, replica := range replicas {
			if replica.Decided(instanceId) {
				decided++
			}
		}
		if decided == len(replicas) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("instance %s undecided on %d replicas after %s",
				lib.BytesToTruncatedString(instanceId), len(replicas)-decided, decideWithin)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// newStore() picks the fact store for a witness: badger under the data directory for
// durable runs, memory otherwise
func newStore(config lib.Config, id uint64, log lib.LoggerI) (consensus.StoreI, lib.ErrorI) {
	if !durable {
		return store.NewMemory(), nil
	}
	c := config
	c.DBName = fmt.Sprintf("%s-%d", config.DBName, id)
	return store.New(c, log)
}
