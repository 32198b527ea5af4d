package main

import (
	"errors"
	"fmt"

	"github.com/azizikri/flash-offer-claims/internal/client"
	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/mirror"
	"github.com/spf13/cobra"
)

type claimOptions struct {
	*rootOptions
	UserID     string
	MirrorPath string
}

func newClaimCommand(root *rootOptions) *cobra.Command {
	opts := &claimOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "claim OFFER_ID",
		Short: "Claim an offer as a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mir client.Mirror
			if opts.MirrorPath != "" {
				m, err := mirror.Open(opts.MirrorPath)
				if err != nil {
					return err
				}
				defer m.Close()
				mir = m
			}

			session := client.NewSession(opts.UserID, client.New(opts.Server, opts.UserID, nil), mir, opts.log)
			claim, err := session.Claim(cmd.Context(), args[0])
			if err != nil {
				if domain.KindOf(err) == domain.KindConflict {
					return errors.New(domain.UserMessage(err))
				}
				return err
			}
			if claim.ID == "" {
				// Interrupted before the service answered.
				return nil
			}
			return opts.emit(cmd.OutOrStdout(), claim, func() string {
				return fmt.Sprintf("claimed %s\ntoken:   %s\nexpires: %s", claim.OfferID, claim.Token, claim.ExpiresAt.Format("2006-01-02 15:04 MST"))
			})
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id to claim as (required)")
	cmd.Flags().StringVar(&opts.MirrorPath, "mirror", "", "sqlite file to record the claim in")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
