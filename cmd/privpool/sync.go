package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"privpool-backend/internal/app"
	"privpool-backend/internal/models"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var syncCommand = &cli.Command{
	Name:  "sync",
	Usage: "fetch pool events of one chain into the event store and print the roots",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "chain", Required: true, Usage: "chain id"},
		&cli.BoolFlag{Name: "force", Usage: "rebuild trees from the stored events"},
		&cli.DurationFlag{Name: "timeout", Value: 10 * time.Minute},
	},
	Action: syncPools,
}

func syncPools(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Logging)

	container, err := app.NewServiceContainer(cfg, logger)
	if err != nil {
		return err
	}
	defer container.Cleanup()

	runCtx, cancel := context.WithTimeout(ctx.Context, ctx.Duration("timeout"))
	defer cancel()

	net, err := container.NetworkFactory(runCtx, ctx.Int64("chain"), nil)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	roots := make(map[models.Pair]string)

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(4)
	for _, pair := range net.Registry.Pairs() {
		binding, err := net.Binding(pair)
		if err != nil {
			return err
		}
		g.Go(func() error {
			for _, kind := range []models.EventKind{models.EventKindDeposit, models.EventKindWithdrawal} {
				res, err := container.Sync.SyncEvents(gctx, net, kind, binding, false)
				if err != nil {
					return fmt.Errorf("%s %s: %w", pair, kind, err)
				}
				logger.Infof("[EventSync] %s %s: %d new from %s", pair, kind, res.Fetched, res.Source)
			}
			root, err := container.Merkle.GetRoot(gctx, net, binding, ctx.Bool("force"))
			if err != nil {
				return fmt.Errorf("%s root: %w", pair, err)
			}
			mu.Lock()
			roots[pair] = root
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for pair, root := range roots {
		fmt.Printf("%-16s %s\n", pair.Key(), root)
	}
	return nil
}
