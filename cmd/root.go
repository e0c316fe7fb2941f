package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qget/qget/internal/config"
	"github.com/qget/qget/internal/history"
	"github.com/qget/qget/internal/manager"
	"github.com/qget/qget/internal/output"
	"github.com/qget/qget/internal/utils"
)

var (
	configPath string
	outputDir  string
	workers    int
	timeout    time.Duration
	userAgent  string
	proxyURL   string
	headers    []string
	debug      bool
	noHistory  bool
)

var QgetVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "qget [urls...]",
	Short:   "Qget is a concurrent HTTP download manager",
	Version: QgetVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if len(args) == 0 {
			output.PrintError("No URL provided")
			os.Exit(1)
		}

		cfg := loadSettings()

		// A typed nil *history.Store must not reach the interface field.
		var hist manager.HistoryStore
		if store := openHistory(); store != nil {
			hist = store
		}

		display := output.NewDisplay()
		mgr := manager.New(cfg, hist, manager.Events{
			OnStarted:  display.Started,
			OnProgress: display.Progress,
			OnCompleted: func(url, finalPath string) {
				display.Completed(url, finalPath)
			},
			OnError: func(url string, err *manager.DownloadError) {
				display.Failed(url, err)
			},
			OnCancelled: display.Cancelled,
		})

		// Ctrl-C cancels every in-flight session; cleanup still runs per
		// session before the process exits.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			mgr.CancelAll()
		}()

		display.Start()
		hadStartErrors := false
		for _, url := range args {
			if err := mgr.StartDownload(url); err != nil {
				hadStartErrors = true
				output.PrintError(err.Error() + ": " + url)
			}
		}
		mgr.Wait()
		display.Stop()

		if hadStartErrors || display.HadErrors() {
			os.Exit(1)
		}
	},
}

func loadSettings() config.Settings {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		output.PrintWarning("Could not load config, using defaults: " + err.Error())
		cfg = config.Default()
	}
	if outputDir != "" {
		cfg.DownloadFolder = config.NormalizeFolder(outputDir)
	}
	if workers > 0 {
		cfg.ConcurrentDownloads = workers
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if userAgent != "" {
		cfg.UserAgent = userAgent
	}
	if proxyURL != "" {
		cfg.ProxyURL = proxyURL
	}
	for _, header := range headers {
		key, value, found := strings.Cut(header, ":")
		if !found {
			output.PrintError("Invalid header, expected 'Key: Value': " + header)
			os.Exit(1)
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := os.MkdirAll(cfg.DownloadFolder, 0755); err != nil {
		output.PrintError("Download folder: " + err.Error())
		os.Exit(1)
	}
	if err := config.ValidateFolder(cfg.DownloadFolder); err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	return cfg
}

func openHistory() *history.Store {
	if noHistory {
		return nil
	}
	hist, err := history.Open(historyPath())
	if err != nil {
		output.PrintWarning("Could not open history: " + err.Error())
		return nil
	}
	return hist
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "qget-history.json"
	}
	return filepath.Join(home, ".qget", "history.json")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Download folder (overrides config)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Max concurrent downloads (overrides config)")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Response header timeout")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", "", "Custom user agent")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/SOCKS proxy URL")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Extra request header 'Key: Value', repeatable")
	rootCmd.Flags().BoolVar(&noHistory, "no-history", false, "Skip the download history store")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
