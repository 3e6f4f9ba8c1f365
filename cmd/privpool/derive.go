package main

import (
	"fmt"
	"os"

	"privpool-backend/internal/models"
	"privpool-backend/internal/note"

	"github.com/urfave/cli/v2"
)

var deriveCommand = &cli.Command{
	Name:  "derive",
	Usage: "print the deterministic note of a mnemonic at a deposit index",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "mnemonic", Usage: "BIP-39 mnemonic (defaults to $PRIVPOOL_MNEMONIC)", EnvVars: []string{"PRIVPOOL_MNEMONIC"}},
		&cli.UintFlag{Name: "index", Usage: "deposit index"},
		&cli.Int64Flag{Name: "chain", Value: 1, Usage: "chain id"},
		&cli.StringFlag{Name: "currency", Value: "eth"},
		&cli.StringFlag{Name: "amount", Value: "0.1"},
	},
	Action: derive,
}

func derive(ctx *cli.Context) error {
	mnemonic := ctx.String("mnemonic")
	if mnemonic == "" {
		return fmt.Errorf("a mnemonic is required")
	}
	rootKey, err := note.RootKeyFromMnemonic(mnemonic, "")
	if err != nil {
		return err
	}

	pair := models.NewPair(ctx.String("currency"), ctx.String("amount"))
	chainID := ctx.Int64("chain")
	n := note.Derive(rootKey, uint32(ctx.Uint("index")), chainID, pair)

	w := os.Stdout
	fmt.Fprintf(w, "pool:        %s on chain %d\n", pair, chainID)
	fmt.Fprintf(w, "index:       %d\n", n.DepositIndex)
	fmt.Fprintf(w, "commitment:  %s\n", n.CommitmentHex)
	fmt.Fprintf(w, "nullifier:   %s\n", n.NullifierHex)
	fmt.Fprintf(w, "backup:      %s\n", note.FormatBackup(pair, chainID, n))
	return nil
}
