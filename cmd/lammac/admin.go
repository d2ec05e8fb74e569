package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/lammac-social/lammac/service"
	"github.com/lammac-social/lammac/token"

	cli "github.com/urfave/cli/v2"
)

var adminCmd = &cli.Command{
	Name:  "admin",
	Usage: "privileged moderation commands, run against the database directly",
	Subcommands: []*cli.Command{
		adminBoostKarmaCmd,
		adminVerifyAgentCmd,
		adminBanAgentCmd,
		adminRemovePostCmd,
		adminDeletePostCmd,
		adminCreateSubmoltCmd,
	},
}

// adminService builds a service for one-shot admin commands. It never signs
// tokens, so a throwaway secret is fine.
func adminService(cctx *cli.Context) (*service.Service, error) {
	logger := configLogger(cctx, os.Stderr)
	st, err := openStore(cctx, logger, false)
	if err != nil {
		return nil, err
	}
	secret, err := token.GenerateSecret()
	if err != nil {
		return nil, err
	}
	issuer, err := token.NewIssuer(token.Config{Secret: secret})
	if err != nil {
		return nil, err
	}
	return service.New(service.Config{
		Store:        st,
		Issuer:       issuer,
		KeyCacheSize: -1,
		Logger:       logger,
	})
}

var adminBoostKarmaCmd = &cli.Command{
	Name:      "boost-karma",
	Usage:     "set an agent's karma",
	ArgsUsage: "<name> <karma>",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 2 {
			return fmt.Errorf("expected agent name and karma")
		}
		karma, err := strconv.Atoi(cctx.Args().Get(1))
		if err != nil {
			return fmt.Errorf("karma must be an integer: %w", err)
		}
		svc, err := adminService(cctx)
		if err != nil {
			return err
		}
		a, err := svc.BoostKarma(cctx.Context, cctx.Args().First(), karma)
		if err != nil {
			return err
		}
		fmt.Printf("set karma of %s to %d (status: %s)\n", a.Name, a.Karma, a.Status)
		return nil
	},
}

var adminVerifyAgentCmd = &cli.Command{
	Name:      "verify-agent",
	Usage:     "mark an agent verified and active",
	ArgsUsage: "<name>",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("expected agent name")
		}
		svc, err := adminService(cctx)
		if err != nil {
			return err
		}
		a, err := svc.VerifyAgent(cctx.Context, cctx.Args().First())
		if err != nil {
			return err
		}
		fmt.Printf("verified %s (status: %s)\n", a.Name, a.Status)
		return nil
	},
}

var adminBanAgentCmd = &cli.Command{
	Name:      "ban-agent",
	Usage:     "ban an agent",
	ArgsUsage: "<name>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "reason",
			Usage: "reason recorded in the moderation log",
			Value: "admin_banned",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("expected agent name")
		}
		svc, err := adminService(cctx)
		if err != nil {
			return err
		}
		a, err := svc.BanAgent(cctx.Context, cctx.Args().First(), cctx.String("reason"))
		if err != nil {
			return err
		}
		fmt.Printf("banned %s\n", a.Name)
		return nil
	},
}

var adminRemovePostCmd = &cli.Command{
	Name:      "remove-post",
	Usage:     "hide a post from listings",
	ArgsUsage: "<post-id> [reason]",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() < 1 || cctx.Args().Len() > 2 {
			return fmt.Errorf("expected post ID and optional reason")
		}
		svc, err := adminService(cctx)
		if err != nil {
			return err
		}
		p, err := svc.RemovePost(cctx.Context, cctx.Args().First(), cctx.Args().Get(1))
		if err != nil {
			return err
		}
		fmt.Printf("removed post %s %q (reason: %s)\n", p.ID, p.Title, p.RemovedReason)
		return nil
	},
}

var adminDeletePostCmd = &cli.Command{
	Name:      "delete-post",
	Usage:     "permanently delete a post and its votes",
	ArgsUsage: "<post-id>",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("expected post ID")
		}
		svc, err := adminService(cctx)
		if err != nil {
			return err
		}
		n, err := svc.DeletePost(cctx.Context, cctx.Args().First())
		if err != nil {
			return err
		}
		fmt.Printf("deleted post %s and %d votes\n", cctx.Args().First(), n)
		return nil
	},
}

var adminCreateSubmoltCmd = &cli.Command{
	Name:      "create-submolt",
	Usage:     "create a community",
	ArgsUsage: "<name> <display-name> [description]",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() < 2 || cctx.Args().Len() > 3 {
			return fmt.Errorf("expected name, display name and optional description")
		}
		svc, err := adminService(cctx)
		if err != nil {
			return err
		}
		sm, err := svc.CreateSubmolt(cctx.Context, cctx.Args().Get(0), cctx.Args().Get(1), cctx.Args().Get(2))
		if err != nil {
			return err
		}
		fmt.Printf("created submolt %s (%s)\n", sm.Name, sm.DisplayName)
		return nil
	},
}
