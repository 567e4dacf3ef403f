// Command verify re-derives a round's crash points from its revealed seeds,
// so players can audit any finished round offline.
package main

import (
	"flag"
	"fmt"
	"os"

	"skycrash/internal/fair"
)

func main() {
	var (
		serverSeed = flag.String("server-seed", "", "server seed revealed after the round")
		commitment = flag.String("hash", "", "server seed hash published before the round")
		clientSeed = flag.String("client-seed", "", "client seed")
		nonce      = flag.Int64("nonce", 0, "round nonce")
		houseEdge  = flag.Float64("house-edge", fair.DefaultHouseEdge, "house edge used by the table")
	)
	flag.Parse()

	if *serverSeed == "" || *clientSeed == "" {
		fmt.Fprintln(os.Stderr, "verify: -server-seed and -client-seed are required")
		flag.Usage()
		os.Exit(2)
	}

	if *commitment != "" {
		if fair.VerifyCommitment(*serverSeed, *commitment) {
			fmt.Println("commitment: OK")
		} else {
			fmt.Println("commitment: MISMATCH")
			os.Exit(1)
		}
	}

	primary, err := fair.DeriveCrashPoint(*serverSeed, *clientSeed, *nonce, *houseEdge, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		os.Exit(1)
	}
	second, err := fair.DeriveCrashPoint(*serverSeed, *clientSeed, *nonce, *houseEdge, fair.StreamSecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("crash point:        %.2f\n", primary)
	fmt.Printf("second crash point: %.2f\n", second)
}
