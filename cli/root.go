// Package cli is the signin command line: a sign-in client for the identity
// backend, and the reference backend itself.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gelozr/signin/config"
	"github.com/gelozr/signin/log"
)

// RootOptions holds global flags and what they load.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	cfg      config.Config
	logger   log.Logger
	closeLog func() error
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "signin",
		Short:         "Sign in against the identity backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewSocialCommand(opts))
	cmd.AddCommand(NewForgotCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewEnvCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.Verbose {
		cfg.Log.LogLevel = "debug"
	}

	logger, err := log.NewSlogLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	o.cfg = cfg
	o.logger = logger
	o.closeLog = logger.Close
	return nil
}

func (o *RootOptions) close() error {
	if o.closeLog == nil {
		return nil
	}
	return o.closeLog()
}

// NewEnvCommand lists the environment variables the config understands.
func NewEnvCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables read by every command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usage, err := config.Usage()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), usage)
			return err
		},
	}
}
