package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xiaot623/paygate/internal/adapter/verifier"
	"github.com/xiaot623/paygate/internal/client"
	"github.com/xiaot623/paygate/internal/config"
	"github.com/xiaot623/paygate/internal/log"
	"github.com/xiaot623/paygate/internal/scheduler"
	"github.com/xiaot623/paygate/internal/service"
	transport "github.com/xiaot623/paygate/internal/transport/http"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the serve command
func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and its maintenance tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent("main")
	logger.Info().
		Int("port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("llm_provider", cfg.LLMProvider).
		Str("verifier", cfg.VerifierURL).
		Msg("starting paygate")
	if cfg.Receiver == "" {
		logger.Warn().Msg("no payment receiver configured, every payment will fail verification")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	streamer, err := service.NewStreamer(cfg)
	if err != nil {
		return err
	}
	agent, err := service.NewAgent(ctx, cfg, st, streamer)
	if err != nil {
		return err
	}
	v := verifier.NewMultiversXVerifier(cfg.VerifierURL, cfg.Receiver, cfg.VerifyTimeout)
	svc := service.New(cfg, st, v, agent)

	sched := scheduler.New(log.WithComponent("scheduler"))
	if err := svc.RegisterTasks(sched); err != nil {
		return fmt.Errorf("register tasks: %w", err)
	}
	sched.StartAll()
	defer sched.StopAll()

	e := transport.NewServer(cfg, svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("HTTP API listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("paygate stopped")
	return nil
}

// newSweepCmd creates the sweep command
func newSweepCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evict expired sessions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()
			return service.New(cfg, st, nil, nil).SweepSessions(cmd.Context())
		},
	}
}

// newChatCmd creates the interactive chat client command
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running gateway over its WebSocket endpoint",
		Long: `Chat with a running gateway. Type a message and press Enter to send.
Commands: /pay <txHash> confirms a payment, /quit exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			return runChat(cmd.Context(), addr)
		},
	}
	cmd.Flags().String("addr", "ws://localhost:4000/api/chat/ws", "WebSocket chat endpoint")
	return cmd
}

func runChat(ctx context.Context, addr string) error {
	c, err := client.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("Connected to %s\n", addr)
	fmt.Println("Type a message and press Enter. /pay <txHash> confirms a payment, /quit exits.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "/quit":
			fmt.Println("Bye!")
			return nil
		case strings.HasPrefix(input, "/pay "):
			err = c.ConfirmPayment(strings.TrimSpace(strings.TrimPrefix(input, "/pay ")), printFrame)
		default:
			err = c.Chat(input, printFrame)
		}
		if err != nil {
			return err
		}
	}
}

func printFrame(f client.Frame) {
	switch f.Type {
	case "text":
		fmt.Print(f.Content)
	case "thinking":
		fmt.Printf("\n(thinking) %s\n", f.Content)
	case "tool_call", "tool_result":
		fmt.Printf("\n[%s] %s\n", f.Type, f.Content)
	case client.TypeComplete:
		fmt.Printf("\n[done] job %s\n", f.JobID)
	case client.TypePaymentRequired:
		if f.Payment != nil {
			fmt.Printf("Payment required: %s %s to %s (session %s)\n", f.Payment.Amount, f.Payment.Token, f.Payment.Receiver, f.SessionID)
		} else {
			fmt.Println(f.Message)
		}
	case client.TypeConfirmation:
		fmt.Printf("Payment %s, job %s\n", f.Status, f.JobID)
	case client.TypeError:
		if f.Error != "" {
			fmt.Printf("error: %s %s\n", f.Error, f.TxStatus)
		} else {
			fmt.Printf("\nerror: %s\n", f.Content)
		}
	}
}
