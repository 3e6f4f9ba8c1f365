package main

import (
	"fmt"
	"time"

	"privpool-backend/internal/app"
	"privpool-backend/internal/middleware"

	"github.com/urfave/cli/v2"
)

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "issue an API session token signed with the configured secret",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "ttl", Usage: "token lifetime, defaults to jwt.expiration"},
	},
	Action: issueToken,
}

func issueToken(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is not set, a token would not survive a restart")
	}
	ttl := ctx.Duration("ttl")
	if ttl == 0 {
		ttl = time.Duration(cfg.JWT.Expiration) * time.Second
	}

	tokens, err := middleware.NewTokenManager(cfg.JWT.Secret, ttl, app.NewLogger(cfg.Logging))
	if err != nil {
		return err
	}
	token, expires, err := tokens.Issue(cfg.Vault.WalletID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Printf("expires %s\n", expires.Format(time.RFC3339))
	return nil
}
