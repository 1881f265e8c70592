package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/deemkeen/bookfed/util"
	"github.com/deemkeen/bookfed/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the federation HTTP server and the job workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			log.Debug().Msg("Configuration:\n" + util.PrettyPrint(conf))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, conf)
		},
	})
}

func serve(ctx context.Context, conf *util.AppConfig) error {
	a, err := newApp(ctx, conf)
	if err != nil {
		return err
	}
	defer a.close()

	log.Info().Str("version", util.GetNameAndVersion()).Str("domain", conf.Conf.SslDomain).Msg("Starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.worker().Start(ctx)

	return web.Serve(ctx, conf, web.NewRouter(conf, a.db, a.dispatcher()))
}
