package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"titipanq-admin/common/logger"
	"titipanq-admin/internal/config"
	"titipanq-admin/internal/models"
	"titipanq-admin/internal/session"
	"titipanq-admin/internal/validation"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errJournalDisabled = errors.New("pickup journal is disabled (set JOURNAL_ENABLED=true)")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI(os.Stdout).execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

// cli 在 PersistentPreRunE 中初始化 app，子命令通过 c.app 使用
type cli struct {
	out        io.Writer
	configFile string
	role       string
	app        *app
	root       *cobra.Command
}

func newCLI(out io.Writer) *cli {
	c := &cli{out: out}
	c.root = c.rootCmd()
	return c
}

// execute 命令失败时 cobra 不会执行 PersistentPostRun，连接在这里统一关闭
func (c *cli) execute(ctx context.Context, args []string) error {
	defer c.teardown()
	c.root.SetArgs(args)
	return c.root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "titipanq-admin",
		Short:         "TitipanQ package receiving / pickup operator toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (yaml/json/toml), overrides TITIPANQ_CONFIG")
	root.PersistentFlags().StringVar(&c.role, "role", "", "session role: admin or user, overrides SESSION_ROLE")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.packagesCmd(),
		c.historyCmd(),
		c.pickupCmd(),
		c.scanCmd(),
		c.labelCmd(),
		c.exportCmd(),
		c.journalCmd(),
		c.expireSchedulerCmd(),
		c.stubCmd(),
	)
	return root
}

func (c *cli) setup() error {
	if c.configFile != "" {
		if err := os.Setenv("TITIPANQ_CONFIG", c.configFile); err != nil {
			return err
		}
	}
	if c.role != "" {
		if err := os.Setenv("SESSION_ROLE", c.role); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "titipanq-admin")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a, err := newApp(cfg, log, c.out)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) teardown() {
	if c.app == nil {
		return
	}
	c.app.close()
	_ = c.app.logger.Sync()
	c.app = nil
}

// describe 把错误整理成给操作员看的一行
func describe(err error) string {
	if errors.Is(err, session.ErrNotLoggedIn) || errors.Is(err, session.ErrSessionExpired) {
		return err.Error() + " (run `titipanq-admin login`)"
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return verrs.Error()
	}
	if apiErr, ok := models.AsAPIError(err); ok {
		if apiErr.IsUnauthorized() {
			return apiErr.Error() + " (run `titipanq-admin login`)"
		}
		return apiErr.Error()
	}
	return err.Error()
}

// logFields 命令统一的日志字段
func logFields(cmd *cobra.Command) []zap.Field {
	return []zap.Field{zap.String("command", cmd.CommandPath())}
}
