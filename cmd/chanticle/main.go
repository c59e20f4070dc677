package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chanticle/chanticle/internal/profile"
	"github.com/chanticle/chanticle/plugin/ai"
	"github.com/chanticle/chanticle/plugin/tracker"
	"github.com/chanticle/chanticle/server"
	"github.com/chanticle/chanticle/server/gate"
	"github.com/chanticle/chanticle/server/pipeline"
	"github.com/chanticle/chanticle/server/retrieval"
	"github.com/chanticle/chanticle/store"
	"github.com/chanticle/chanticle/store/db"
)

const greetingBanner = `chanticle - semantic retrieval and ticket decision pipeline`

var rootCmd = &cobra.Command{
	Use:   "chanticle",
	Short: "Ingests chat messages, retrieves semantic context, and decides on tracker tickets",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p, err := loadProfile()
		if err != nil {
			return err
		}
		st, err := newStore(ctx, p)
		if err != nil {
			return err
		}

		s, err := server.NewServer(ctx, p, st)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			slog.Info("shutting down")
			s.Shutdown(ctx)
			cancel()
		}()

		fmt.Println(greetingBanner)
		if err := s.Start(ctx); err != nil {
			slog.Error("server stopped", "error", err)
		}
		<-ctx.Done()
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a semantic search against the message store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := loadProfile()
		if err != nil {
			return err
		}
		st, err := newStore(ctx, p)
		if err != nil {
			return err
		}
		defer st.Close()

		aiConfig := ai.NewConfigFromProfile(p)
		embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
		if err != nil {
			return err
		}
		searcher := retrieval.NewSearcher(st, embeddingService)

		channelID, _ := cmd.Flags().GetString("channel")
		topK, _ := cmd.Flags().GetInt("top-k")
		threshold, _ := cmd.Flags().GetFloat64("threshold")

		opts := retrieval.Options{}
		if topK > 0 {
			opts.TopK = &topK
		}
		if threshold > 0 {
			opts.Threshold = &threshold
		}

		var hits []*store.SearchHit
		if channelID != "" {
			hits, err = searcher.Search(ctx, args[0], channelID, opts)
		} else {
			hits, err = searcher.SearchAll(ctx, args[0], opts, retrieval.Filter{})
		}
		if err != nil {
			return err
		}
		for _, hit := range hits {
			fmt.Printf("%.4f  [%s] %s\n", hit.Distance, hit.ChannelID, hit.Text)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Execute a decision pipeline run and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := loadProfile()
		if err != nil {
			return err
		}
		st, err := newStore(ctx, p)
		if err != nil {
			return err
		}
		defer st.Close()

		aiConfig := ai.NewConfigFromProfile(p)
		embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
		if err != nil {
			return err
		}
		chatService, err := ai.NewChatService(&aiConfig.Chat)
		if err != nil {
			return err
		}

		var issueTracker tracker.Tracker
		if p.IsTrackerEnabled() {
			issueTracker, err = tracker.NewJiraClient(tracker.JiraConfig{
				BaseURL:    p.TrackerBaseURL,
				OAuthToken: p.TrackerOAuthToken,
				ProjectKey: p.TrackerProjectKey,
			})
			if err != nil {
				return err
			}
		} else {
			issueTracker = tracker.NewMockTracker()
		}

		runner := pipeline.NewRunner(
			st,
			retrieval.NewSearcher(st, embeddingService),
			retrieval.NewExpander(st),
			gate.NewGate(gate.NewLLMClassifier(chatService)),
			issueTracker,
			pipeline.Config{
				StepTimeout:      p.StepTimeout,
				MaxAttempts:      p.StepMaxAttempts,
				DefaultTopK:      p.RunDefaultTopK,
				DefaultThreshold: p.RunThreshold,
				Project:          p.TrackerProjectKey,
			},
		)

		channelID, _ := cmd.Flags().GetString("channel")
		topK, _ := cmd.Flags().GetInt("top-k")
		threshold, _ := cmd.Flags().GetFloat64("threshold")

		result, err := runner.Run(ctx, args[0], channelID, pipeline.RunOptions{
			TopK:      topK,
			Threshold: threshold,
		})
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [channel]",
	Short: "Show message statistics per channel",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := loadProfile()
		if err != nil {
			return err
		}
		st, err := newStore(ctx, p)
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 1 {
			stats, err := st.GetChannelStats(ctx, args[0])
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		}

		channels, err := st.ListChannels(ctx)
		if err != nil {
			return err
		}
		for _, channel := range channels {
			fmt.Printf("%-24s %d messages\n", channel.ChannelID, channel.MessageCount)
		}
		return nil
	},
}

func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:   viper.GetString("mode"),
		Addr:   viper.GetString("addr"),
		Port:   viper.GetInt("port"),
		Data:   viper.GetString("data"),
		Driver: viper.GetString("driver"),
		DSN:    viper.GetString("dsn"),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return p, nil
}

func newStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create db driver: %w", err)
	}
	st := store.New(driver, p)
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return st, nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8232)
	viper.SetDefault("data", "")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("dsn", "")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8232, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("chanticle")
	viper.AutomaticEnv()

	searchCmd.Flags().String("channel", "", "restrict the search to one channel")
	searchCmd.Flags().Int("top-k", 0, "maximum number of results")
	searchCmd.Flags().Float64("threshold", 0, "maximum cosine distance")

	runCmd.Flags().String("channel", "", "channel whose messages form the context")
	runCmd.Flags().Int("top-k", 0, "maximum number of semantic hits")
	runCmd.Flags().Float64("threshold", 0, "maximum cosine distance for hits")
	_ = runCmd.MarkFlagRequired("channel")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
