package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/httpclient"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	var opts appOptions

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Sign in to the API and make authenticated requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			displayAppname("Auth Session")
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	flags.StringVar(&opts.baseURL, "base-url", "", "API base URL, overrides the configured one")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		loginCmd(&opts),
		logoutCmd(&opts),
		statusCmd(&opts),
		whoamiCmd(&opts),
		getCmd(&opts),
		versionCmd(),
	)
	return cmd
}

// withApp runs fn against a freshly wired app and tears it down afterwards.
func withApp(cmd *cobra.Command, opts *appOptions, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, *opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func loginCmd(opts *appOptions) *cobra.Command {
	var creds auth.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.Password == "" {
				creds.Password = os.Getenv("AUTHSESSION_PASSWORD")
			}
			if creds.Email == "" || creds.Password == "" {
				return fmt.Errorf("--email and --password (or AUTHSESSION_PASSWORD) are required")
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.ready(ctx); err != nil {
					return err
				}
				user, err := a.manager.Login(ctx, creds)
				if err != nil {
					if msg := a.manager.Snapshot().Error; msg != "" {
						return fmt.Errorf("%s", msg)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.DisplayName())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&creds.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "Account password")
	return cmd
}

func logoutCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				a.manager.Logout(ctx)
				waitCtx, cancel := context.WithTimeout(ctx, a.cfg.GetHTTPTimeout())
				defer cancel()
				if err := a.manager.Wait(waitCtx); err != nil {
					a.logger.Debug().Err(err).Msg("server logout still pending at exit")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func statusCmd(opts *appOptions) *cobra.Command {
	var (
		watch       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if !watch {
					snap, err := a.ready(ctx)
					if err != nil {
						return err
					}
					printSnapshot(cmd.OutOrStdout(), snap)
					return nil
				}
				displayAppname(a.cfg.GetAppName())
				return watchStatus(ctx, cmd.OutOrStdout(), a, metricsAddr)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and print every state change")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching")
	return cmd
}

func watchStatus(ctx context.Context, out io.Writer, a *app, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	unsubscribe := a.manager.Subscribe(func(s sessions.Snapshot) {
		printSnapshot(out, s)
	})
	defer unsubscribe()

	if err := a.watchStorage(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func whoamiCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and token claims",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				snap, err := a.ready(ctx)
				if err != nil {
					return err
				}
				if snap.Status != sessions.StatusAuthenticated {
					return notSignedIn(snap)
				}

				out := cmd.OutOrStdout()
				u := snap.CurrentUser
				fmt.Fprintf(out, "User:     %s <%s>\n", u.DisplayName(), u.Email)
				fmt.Fprintf(out, "ID:       %s\n", u.ID)

				claims, verified, err := a.verifyClaims(ctx, snap.Tokens)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Role:     %s\n", claims.PrimaryRole())
				if claims.ExpiresAt != nil {
					fmt.Fprintf(out, "Expires:  %s\n", claims.ExpiresAt.Format(time.RFC3339))
				}
				fmt.Fprintf(out, "Verified: %t\n", verified)
				return nil
			})
		},
	}
}

func getCmd(opts *appOptions) *cobra.Command {
	var (
		headers  []string
		skipAuth bool
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Make an authenticated GET request and print the JSON body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reqOpts []httpclient.RequestOption
			for _, h := range headers {
				key, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q, want Key: Value", h)
				}
				reqOpts = append(reqOpts, httpclient.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
			}
			if skipAuth {
				reqOpts = append(reqOpts, httpclient.SkipAuth())
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.ready(ctx); err != nil {
					return err
				}
				resp, err := a.client.Get(ctx, args[0], nil, reqOpts...)
				if err != nil {
					return err
				}
				if resp.Body == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%d (no content)\n", resp.Status)
					return nil
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Body)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Extra request header, Key: Value")
	cmd.Flags().BoolVar(&skipAuth, "skip-auth", false, "Send the request without the session")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	}
}

func printSnapshot(out io.Writer, s sessions.Snapshot) {
	fmt.Fprintf(out, "Status: %s\n", s.Status)
	if s.CurrentUser != nil {
		fmt.Fprintf(out, "User:   %s\n", s.CurrentUser.DisplayName())
	}
	if s.Tokens != nil && s.Tokens.ExpiresAt != nil {
		fmt.Fprintf(out, "Expiry: %s\n", s.Tokens.ExpiresAt.Format(time.RFC3339))
	}
	if s.Error != "" {
		fmt.Fprintf(out, "Error:  %s\n", s.Error)
	}
}

func notSignedIn(s sessions.Snapshot) error {
	if s.Error != "" {
		return fmt.Errorf("not signed in: %s", s.Error)
	}
	return fmt.Errorf("not signed in")
}
