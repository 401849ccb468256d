package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"civicvoice/internal/client"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the API server health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.New(serverURL).Health(ctx); err != nil {
				return fmt.Errorf("unhealthy: %w", err)
			}
			printf(cmd.OutOrStdout(), "%s: ok\n", serverURL)
			return nil
		},
	}
}

func newSigninCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "signin <email>",
		Short: "Sign in and print a session token",
		Long: `Sign in against the API server and print the bearer token.
The password is read from --password or, when omitted, from the first line of stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			sess, err := client.New(serverURL).Signin(ctx, args[0], password)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", sess.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}
