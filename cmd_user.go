package main

import (
	"fmt"
	"os"

	"github.com/deemkeen/bookfed/activitypub"
	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/util"
	"github.com/spf13/cobra"
)

func init() {
	userCmd := &cobra.Command{Use: "user", Short: "Local user operations"}

	var displayName string
	var manual bool
	createCmd := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Create a local user with a fresh key pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer a.close()

			username := util.NormalizeInput(args[0])
			keys, err := util.GeneratePemKeypair()
			if err != nil {
				return err
			}
			actor := activitypub.NewLocalActor(conf.BaseURL(), username, util.NormalizeInput(displayName), keys.Public, keys.Private)
			actor.ManuallyApprovesFollowers = manual
			if err := a.db.CreateLocalActor(cmd.Context(), actor); err != nil {
				return fmt.Errorf("create user %s: %w", username, err)
			}
			_, _ = fmt.Fprintln(os.Stdout, actor.ActorURI)
			return nil
		},
	}
	createCmd.Flags().StringVarP(&displayName, "name", "n", "", "Display name")
	createCmd.Flags().BoolVar(&manual, "manual", false, "Approve followers manually")
	userCmd.AddCommand(createCmd)

	userCmd.AddCommand(&cobra.Command{
		Use:   "follow USERNAME HANDLE",
		Short: "Follow a remote account given as user@domain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer a.close()

			local, err := a.localUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			target, err := a.resolver.ResolveHandle(cmd.Context(), args[1])
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[1], err)
			}
			req, err := a.outbox.Follow(cmd.Context(), local, target)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "follow %s -> %s\n", req.URI, target.ActorURI)
			return nil
		},
	})

	var privacy string
	postCmd := &cobra.Command{
		Use:   "post USERNAME TEXT",
		Short: "Publish a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer a.close()

			author, err := a.localUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			status := &domain.Status{
				Content: util.NormalizeInput(args[1]),
				Privacy: domain.Privacy(privacy),
			}
			if err := a.outbox.Post(cmd.Context(), author, status, activitypub.PostOptions{}); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, status.URI)
			return nil
		},
	}
	postCmd.Flags().StringVarP(&privacy, "privacy", "p", string(domain.PrivacyPublic), "public, unlisted, followers or direct")
	userCmd.AddCommand(postCmd)

	rootCmd.AddCommand(userCmd)
}
