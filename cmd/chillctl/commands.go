package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/repository"
	"github.com/chillspot/chillspot-api/internal/seed"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func newSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users, stories, comments and follows from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fixtures, err := seed.LoadFile(file)
			if err != nil {
				return err
			}

			repos, err := repository.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer repos.Close(cmd.Context())

			hasher, err := auth.NewHasher(cfg.Hashing.Cost)
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL, cfg.JWT.Issuer)
			if err != nil {
				return err
			}

			seeder := seed.NewSeeder(repos, auth.NewService(repos.Users, hasher, tokens), cfg.Images.DefaultAvatars, logger)
			res, err := seeder.Apply(cmd.Context(), fixtures)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %d users, %d stories, %d comments, %d follows\n",
				res.Users, res.Stories, res.Comments, res.Follows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "fixtures.yaml", "the fixtures file to load")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt digest of a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hasher, err := auth.NewHasher(cost)
			if err != nil {
				return err
			}
			digest, err := hasher.Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost factor")
	return cmd
}

func newIssueTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a bearer token for a user with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user-id is required")
			}

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.JWT.TTL
			}

			tokens, err := auth.NewTokenService(cfg.JWT.Secret, ttl, cfg.JWT.Issuer)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(auth.Identity{ID: userID, Email: email})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "the user id to put in the token")
	cmd.Flags().StringVar(&email, "email", "", "the email to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_TTL)")
	return cmd
}
