package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-feedback/backend/internal/config"
	"github.com/zhouzirui/z-feedback/backend/internal/handler"
	"github.com/zhouzirui/z-feedback/backend/internal/handler/telegram"
	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
	"github.com/zhouzirui/z-feedback/backend/internal/service/attachment"
	"github.com/zhouzirui/z-feedback/backend/internal/service/dialog"
	"github.com/zhouzirui/z-feedback/backend/internal/service/notify"
	"github.com/zhouzirui/z-feedback/backend/internal/service/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "feedbackbot",
		Short:         "Telegram feedback bot that mails submissions to the management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), pollCmd(), checkMailCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive Telegram updates through a webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Telegram.WebhookEnabled() {
				return errors.New("WEBHOOK_URL is required in serve mode, use poll otherwise")
			}

			app := newApp(cfg)
			bot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.Debug)
			if err != nil {
				return err
			}
			tg := telegram.New(bot, app.engine, telegram.BotFetcher(bot, nil), app.messages.GenericFailure)
			if err := telegram.SetWebhook(bot, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookPath()); err != nil {
				return err
			}

			go app.engine.RunSweeper(ctx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)

			router := handler.NewRouter(app.engine, app.routes(handler.Routes{
				Webhook:     tg,
				WebhookPath: cfg.Telegram.WebhookPath(),
			}))
			return startServer(ctx, cfg.Server, router)
		},
	}
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Receive Telegram updates through long-polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			app := newApp(cfg)
			bot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.Debug)
			if err != nil {
				return err
			}
			if err := telegram.DeleteWebhook(bot); err != nil {
				log.Printf("warning: %v", err)
			}
			tg := telegram.New(bot, app.engine, telegram.BotFetcher(bot, nil), app.messages.GenericFailure)

			updates := telegram.Updates(bot, cfg.Telegram.PollTimeout)
			defer bot.StopReceivingUpdates()
			go tg.Poll(ctx, updates)
			go app.engine.RunSweeper(ctx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)

			log.Println("[telegram] polling for updates")
			router := handler.NewRouter(app.engine, app.routes(handler.Routes{}))
			return startServer(ctx, cfg.Server, router)
		},
	}
}

func checkMailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-mail",
		Short: "Send a test notification to the configured recipient",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			app := newApp(cfg)
			envelope := app.composer.Compose(cmd.Context(), feedback.Session{
				ID: "check-mail",
				Fields: map[feedback.Field]string{
					feedback.FieldFeedbackText: "Проверка доставки",
				},
			})
			if err := app.mailer.Deliver(cmd.Context(), envelope); err != nil {
				return fmt.Errorf("test delivery failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %q to %s\n", envelope.Subject, cfg.Mail.Receiver)
			return nil
		},
	}
}

type app struct {
	cfg      *config.Config
	engine   *dialog.Engine
	composer *notify.Composer
	mailer   notify.Mailer
	messages dialog.Messages
}

func loadConfig() (*config.Config, error) {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config) *app {
	storage := attachment.NewFileStorage(cfg.Storage.Dir)
	collector := attachment.NewCollector(storage)
	composer := notify.NewComposer(storage, notify.DefaultLabels())
	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Sender,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.Sender,
		To:       cfg.Mail.Receiver,
		Timeout:  cfg.Mail.Timeout,
	})
	messages := dialog.DefaultMessages()
	engine := dialog.NewEngine(
		session.NewMemoryStore(),
		collector,
		composer,
		notify.NewDispatcher(mailer, collector),
		messages,
	)
	return &app{cfg: cfg, engine: engine, composer: composer, mailer: mailer, messages: messages}
}

func (a *app) routes(routes handler.Routes) handler.Routes {
	if a.cfg.Server.WebSocketEnabled {
		routes.Dialog = a.engine
	}
	return routes
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("feedback bot listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
