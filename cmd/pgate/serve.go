package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"phasegate/internal/app"
	"phasegate/internal/server"
)

func jwtSecret() string { return viper.GetString("jwt-secret") }

func serveCmd() *cobra.Command {
	var addr, basePath string
	var anonymous bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serves the phasegate API for every project in the workspace.
Bearer tokens are HS256 JWTs signed with PHASEGATE_JWT_SECRET; mint one with pgate token.
--anonymous accepts unauthenticated requests with full permissions (local use only).
Configured webhooks receive matching events while the server runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			auth := server.AuthConfig{JWTSecret: jwtSecret(), AllowAnonymous: anonymous}
			if auth.JWTSecret == "" && !anonymous {
				return fmt.Errorf("PHASEGATE_JWT_SECRET is required for bearer auth (or pass --anonymous)")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				handler, err := server.New(server.Config{
					Engine:   w.Engine,
					BasePath: basePath,
					Auth:     auth,
					LockDir:  w.LockDir(),
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				go server.NewWebhookDispatcher(w.Engine, logger).Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(sctx); err != nil {
						logger.Warn("server shutdown", zap.Error(err))
					}
				}()
				fmt.Printf("Serving phasegate API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "allow unauthenticated requests")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := jwtSecret()
			if secret == "" {
				return fmt.Errorf("PHASEGATE_JWT_SECRET is required to sign tokens")
			}
			if subject == "" {
				subject = actorID()
			}
			tok, err := server.SignToken(secret, subject, perms, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (defaults to --actor-id)")
	cmd.Flags().StringArrayVar(&perms, "perm", []string{server.PermProjectRead}, "permission (repeatable; * grants all)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
