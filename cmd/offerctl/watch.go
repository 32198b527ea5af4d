package main

import (
	"fmt"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/client"
	"github.com/azizikri/flash-offer-claims/internal/feed"
	"github.com/azizikri/flash-offer-claims/internal/mirror"
	"github.com/azizikri/flash-offer-claims/internal/subscription"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type watchOptions struct {
	*rootOptions
	UserID      string
	ClaimID     string
	MirrorPath  string
	MaxAttempts int
}

// watchLine is one printed stream event.
type watchLine struct {
	Event   string `json:"event"`
	At      string `json:"at"`
	ClaimID string `json:"claim_id,omitempty"`
	OfferID string `json:"offer_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Version int64  `json:"version,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	opts := &watchOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream claim updates for a user",
		Long: `Open the change feed as --user and print every claim update and
connection state change until interrupted. With --mirror, confirmed updates
are also written to a local sqlite mirror.

Examples:
  offerctl watch --user alice
  offerctl watch --user alice --claim 6c1f... --format json
  offerctl watch --user alice --mirror ./claims.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id to authenticate as (required)")
	cmd.Flags().StringVar(&opts.ClaimID, "claim", "", "watch a single claim instead of all of the user's claims")
	cmd.Flags().StringVar(&opts.MirrorPath, "mirror", "", "sqlite file to mirror confirmed claim state into")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 6, "reconnect attempts before giving up")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *watchOptions) error {
	ctx := cmd.Context()
	log := opts.log

	api := client.New(opts.Server, opts.UserID, nil)

	var mir client.Mirror
	if opts.MirrorPath != "" {
		m, err := mirror.Open(opts.MirrorPath)
		if err != nil {
			return err
		}
		defer m.Close()
		mir = m
	}
	session := client.NewSession(opts.UserID, api, mir, log)

	backoff := subscription.DefaultBackoff()
	backoff.MaxAttempts = opts.MaxAttempts
	manager := subscription.New(&subscription.WebSocketDialer{
		URL:    api.FeedURL(opts.cfg.WSPath),
		Header: api.Header(),
	}, subscription.Options{Backoff: backoff, Logger: log.Named("feed")})
	defer manager.Close()

	filter := feed.UserFilter(opts.UserID)
	if opts.ClaimID != "" {
		filter = feed.ClaimFilter(opts.ClaimID)
	}
	events := manager.Stream(ctx, filter)
	manager.Start(ctx)

	out := cmd.OutOrStdout()
	for ev := range events {
		line := watchLine{At: time.Now().UTC().Format(time.RFC3339Nano)}
		switch ev := ev.(type) {
		case subscription.ClaimUpdated:
			u := ev.Update
			line.Event = "claim_update"
			line.ClaimID, line.OfferID = u.ClaimID, u.OfferID
			line.Status, line.Version = string(u.Status), u.Version
			if _, err := session.HandleUpdate(ctx, u); err != nil {
				log.Warn("reconcile update", zap.String("claim_id", u.ClaimID), zap.Error(err))
			}
		case subscription.SubscriptionError:
			line.Event = "error"
			line.Error = ev.Err.Error()
		case subscription.ConnectionChanged:
			line.Event = "connection"
			line.From, line.To = ev.From.String(), ev.To.String()
			if ev.Err != nil {
				line.Error = ev.Err.Error()
			}
		}

		if err := opts.emit(out, line, func() string { return formatLine(line) }); err != nil {
			return err
		}

		if cc, ok := ev.(subscription.ConnectionChanged); ok && cc.To == subscription.Failed {
			if !subscription.IsRetryable(cc.Err) {
				return fmt.Errorf("feed rejected the connection: %w", cc.Err)
			}
			return fmt.Errorf("feed unreachable after %d attempts: %w", opts.MaxAttempts, cc.Err)
		}
	}
	return nil
}

func formatLine(l watchLine) string {
	switch l.Event {
	case "claim_update":
		return fmt.Sprintf("%s  claim %s  offer %s  %s (v%d)", l.At, l.ClaimID, l.OfferID, l.Status, l.Version)
	case "connection":
		if l.Error != "" {
			return fmt.Sprintf("%s  connection %s -> %s: %s", l.At, l.From, l.To, l.Error)
		}
		return fmt.Sprintf("%s  connection %s -> %s", l.At, l.From, l.To)
	default:
		return fmt.Sprintf("%s  error: %s", l.At, l.Error)
	}
}
