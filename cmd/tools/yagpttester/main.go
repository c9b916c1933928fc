// yagpttester checks YandexGPT connectivity from the command line: it exchanges the
// service-account key for an IAM token and optionally runs a single completion.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/zhouzirui/yagpt-chat/backend/internal/config"
	"github.com/zhouzirui/yagpt-chat/backend/internal/logger"
	"github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/auth"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/yandexgpt"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: 无法加载 .env，改用系统环境变量: %v\n", err)
	}

	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	mode        string
	text        string
	system      string
	temperature float64
	maxTokens   int
	model       string
	timeout     time.Duration
	verbose     bool
}

func parseFlags(args []string, out io.Writer) (options, bool, error) {
	var opts options
	flagSet := pflag.NewFlagSet("yagpttester", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVarP(&opts.mode, "mode", "m", "token", "测试模式: token 或 complete")
	flagSet.StringVarP(&opts.text, "text", "t", "", "complete 模式下发送的用户消息")
	flagSet.StringVar(&opts.system, "system", "", "可选的 system 提示词")
	flagSet.Float64Var(&opts.temperature, "temperature", -1, "采样温度 [0,1]，负数表示使用配置默认值")
	flagSet.IntVar(&opts.maxTokens, "max-tokens", 0, "最大生成 token 数，0 表示使用配置默认值")
	flagSet.StringVar(&opts.model, "model", "", "模型 URI，默认使用 YAND_TEXT_MODEL_URI 或 yandexgpt-lite")
	flagSet.DurationVar(&opts.timeout, "timeout", 60*time.Second, "整体超时时间")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "输出调试日志")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, true, nil
		}
		return opts, false, err
	}

	switch opts.mode {
	case "token":
	case "complete":
		if strings.TrimSpace(opts.text) == "" {
			return opts, false, errors.New("--text is required in complete mode")
		}
	default:
		return opts, false, fmt.Errorf("unknown mode %q, expected token or complete", opts.mode)
	}
	return opts, false, nil
}

func run(args []string, out io.Writer) error {
	opts, help, err := parseFlags(args, out)
	if err != nil || help {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("配置加载失败: %w", err)
	}
	if !cfg.AI.Enabled() {
		return errors.New("请先配置 SERVICE_ACCOUNT_ID、KEY_ID 和 FOLDER_ID")
	}

	log := logger.Setup(os.Stderr, opts.verbose)

	cred, err := auth.LoadCredential(cfg.AI.ServiceAccountID, cfg.AI.KeyID, cfg.AI.FolderID, cfg.AI.PrivateKeyPath)
	if err != nil {
		return err
	}
	if err := cred.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	signer := auth.NewSigner(cred,
		auth.WithIAMEndpoint(cfg.AI.IAMEndpoint),
		auth.WithHTTPClient(&http.Client{Timeout: cfg.AI.IAMTimeout}),
		auth.WithSignerLogger(log),
	)
	tokens := auth.NewTokenCache(signer)

	started := time.Now()
	tok, err := tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("IAM token exchange failed: %w", err)
	}
	fmt.Fprintf(out, "IAM token: %s (expires %s, exchange took %s)\n",
		maskToken(tok.Value), tok.ExpiresAt.Format(time.RFC3339), time.Since(started).Round(time.Millisecond))

	if opts.mode == "token" {
		return nil
	}

	client := yandexgpt.New(tokens, cfg.AI.FolderID,
		yandexgpt.WithBaseURL(cfg.AI.BaseURL),
		yandexgpt.WithModelURI(cfg.AI.ResolvedModelURI()),
		yandexgpt.WithHTTPClient(&http.Client{Timeout: cfg.AI.CompletionTimeout}),
		yandexgpt.WithLogger(log),
	)

	reply, err := complete(ctx, client, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, reply.Text)
	return nil
}

func complete(ctx context.Context, client *yandexgpt.Client, opts options) (chat.Turn, error) {
	now := time.Now()
	var turns []chat.Turn
	if opts.system != "" {
		turns = append(turns, chat.NewTurn(chat.RoleSystem, opts.system, now))
	}
	turns = append(turns, chat.NewTurn(chat.RoleUser, opts.text, now))

	var completionOpts yandexgpt.Options
	if opts.temperature >= 0 {
		completionOpts.Temperature = &opts.temperature
	}
	if opts.maxTokens > 0 {
		completionOpts.MaxTokens = &opts.maxTokens
	}
	completionOpts.ModelURI = opts.model

	reply, err := client.Complete(ctx, turns, completionOpts)
	if err != nil {
		return chat.Turn{}, fmt.Errorf("completion failed (%s): %w", yandexgpt.ReasonOf(err), err)
	}
	return reply, nil
}

// maskToken keeps only enough of the token to tell two tokens apart.
func maskToken(value string) string {
	if len(value) <= 12 {
		return strings.Repeat("*", len(value))
	}
	return value[:6] + "…" + value[len(value)-4:]
}
