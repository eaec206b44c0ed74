package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"storybook/internal/client"
	"storybook/internal/config"
	"storybook/internal/model"
	"storybook/internal/pipeline"
	"storybook/internal/prompt"
	"storybook/internal/provider"
	"storybook/internal/server"
)

// 命令行配色
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

func main() {
	var (
		configPath string
		cfg        *config.Config
	)

	rootCmd := &cobra.Command{
		Use:           "storybook",
		Short:         "Illustrated children's storybook generator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
			return config.InitLogging(cfg.Log())
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $HOME/.storybook/storybook.yaml or ./storybook.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cfg)
		},
	}
	serveCmd.Flags().String("addr", "", "listen address, overrides server.addr")

	var (
		storyPrompt string
		pages       int
		outPath     string
		serverURL   string
	)
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one storybook and write it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), cfg, storyPrompt, pages, serverURL, outPath)
		},
	}
	generateCmd.Flags().StringVarP(&storyPrompt, "prompt", "p", "", "story idea")
	generateCmd.Flags().IntVarP(&pages, "pages", "n", 0, "page count (default pipeline.default_page_count)")
	generateCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	generateCmd.Flags().StringVar(&serverURL, "server", "", "generate through a running server instead of in process")
	_ = generateCmd.MarkFlagRequired("prompt")

	var (
		inPath string
		apiKey string
	)
	illustrateCmd := &cobra.Command{
		Use:   "illustrate",
		Short: "Re-illustrate a generated story page by page through a running server",
		Long:  "Requests one image per page, in order. Ctrl+C stops after the page in progress.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				outPath = inPath
			}
			return runIllustrate(cmd.Context(), serverURL, inPath, outPath, apiKey)
		},
	}
	illustrateCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server base URL")
	illustrateCmd.Flags().StringVar(&inPath, "in", "", "story JSON produced by generate")
	illustrateCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: overwrite --in)")
	illustrateCmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("GEMINI_API_KEY"), "image provider key")
	_ = illustrateCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(serveCmd, generateCmd, illustrateCmd)

	// addr 覆盖配置文件中的监听地址
	serveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Viper().Set("server.addr", addr)
		}
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newFactory(cfg *config.Config) (*provider.Factory, error) {
	return provider.NewFactory(cfg.Provider())
}

func runServer(cfg *config.Config) error {
	factory, err := newFactory(cfg)
	if err != nil {
		return err
	}
	if logrus.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := server.NewHandler(factory, pipeline.New(cfg.Pipeline()), server.Options{
		DefaultPageCount: cfg.DefaultPageCount(),
		MaxPageCount:     cfg.MaxPageCount(),
		ImageSize:        cfg.Provider().ImageSize,
	})
	srv := &http.Server{
		Addr:    cfg.ServerAddr(),
		Handler: server.NewRouter(handler),
	}

	// 在goroutine中启动服务器
	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", srv.Addr).WithFields(toFields(factory.Describe())).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("start server: %w", err)
	case <-quit:
	}
	logrus.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logrus.Info("server stopped")
	return nil
}

func toFields(m map[string]string) logrus.Fields {
	f := logrus.Fields{}
	for k, v := range m {
		f[k] = v
	}
	return f
}

func envCredentials() model.Credentials {
	return model.Credentials{
		GeminiKey: os.Getenv("GEMINI_API_KEY"),
		ArkKey:    os.Getenv("ARK_API_KEY"),
	}
}

func runGenerate(ctx context.Context, cfg *config.Config, storyPrompt string, pages int, serverURL, outPath string) error {
	req := model.StoryRequest{Prompt: storyPrompt, PageCount: pages, Credentials: envCredentials()}

	var (
		result *model.StoryResult
		err    error
	)
	if serverURL != "" {
		titleColor.Fprintf(os.Stderr, "Generating story via %s...\n", serverURL)
		result, err = client.New(serverURL, nil).GenerateStory(ctx, req)
	} else {
		result, err = generateInProcess(ctx, cfg, req)
	}
	if err != nil {
		return err
	}

	if err := writeJSON(outPath, result); err != nil {
		return err
	}
	successColor.Fprintf(os.Stderr, "%q: %d pages\n", result.Title, len(result.Pages))
	for _, p := range result.Pages {
		if p.ImagePrompt == prompt.FallbackCoverMarker || p.ImagePrompt == prompt.FallbackPlaceholderMarker {
			warnColor.Fprintf(os.Stderr, "  page %d: %s\n", p.PageNumber, p.ImagePrompt)
		}
	}
	return nil
}

func generateInProcess(ctx context.Context, cfg *config.Config, req model.StoryRequest) (*model.StoryResult, error) {
	req, err := model.ValidateRequest(req, cfg.DefaultPageCount(), cfg.MaxPageCount())
	if err != nil {
		return nil, err
	}
	factory, err := newFactory(cfg)
	if err != nil {
		return nil, err
	}
	bindings, err := factory.Bindings(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}

	orch := pipeline.New(cfg.Pipeline())
	orch.OnState = func(s pipeline.State) {
		titleColor.Fprintf(os.Stderr, "%s\n", s)
	}
	return orch.Run(ctx, bindings, req)
}

func runIllustrate(ctx context.Context, serverURL, inPath, outPath, apiKey string) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	var story model.StoryResult
	if err := json.Unmarshal(data, &story); err != nil {
		return fmt.Errorf("parse %s: %w", inPath, err)
	}

	token := &client.CancelToken{}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	defer signal.Stop(sigChan)
	go func() {
		if _, ok := <-sigChan; ok {
			warnColor.Fprintln(os.Stderr, "\nStopping after the current page...")
			token.Cancel()
		}
	}()

	progress, err := client.IllustrateSequential(ctx, client.New(serverURL, nil), &story, apiKey, token,
		func(i int, p model.PageResult) {
			successColor.Fprintf(os.Stderr, "page %d/%d illustrated\n", i+1, len(story.Pages))
		})
	// 已完成的页面无论成功与否都写回
	if werr := writeJSON(outPath, &story); werr != nil {
		return werr
	}
	if model.IsQuota(err) {
		return errors.New("quota exceeded: free tier quota exceeded, please use a paid API key")
	}
	if err != nil {
		return err
	}
	if progress.Stopped {
		warnColor.Fprintf(os.Stderr, "stopped: %d illustrated, %d failed\n", progress.Illustrated, progress.Failed)
		return nil
	}
	successColor.Fprintf(os.Stderr, "done: %d illustrated, %d failed\n", progress.Illustrated, progress.Failed)
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
