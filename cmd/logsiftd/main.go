// Command logsiftd runs the log search daemon: an append-only indexed event
// store behind a JSON API.
package main

import (
	"context"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/logsift/logsift/engine"
	"github.com/logsift/logsift/http"
	"github.com/logsift/logsift/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	dataDir          string
	httpBindAddress  string
	authToken        string
	segmentRotation  string
	segmentRetention int
	logLevel         string
)

func init() {
	viper.SetEnvPrefix("LOGSIFT")

	rootCmd.Flags().StringVar(&dataDir, "data-dir", "data", "directory holding the event store")
	viper.BindEnv("DATA_DIR")
	if v := viper.GetString("DATA_DIR"); v != "" {
		dataDir = v
	}

	rootCmd.Flags().StringVar(&httpBindAddress, "http-bind-address", ":9077", "bind address for the json api")
	viper.BindEnv("HTTP_BIND_ADDRESS")
	if v := viper.GetString("HTTP_BIND_ADDRESS"); v != "" {
		httpBindAddress = v
	}

	rootCmd.Flags().StringVar(&authToken, "auth-token", "", "bearer token required on the api, empty disables auth")
	viper.BindEnv("AUTH_TOKEN")
	if v := viper.GetString("AUTH_TOKEN"); v != "" {
		authToken = v
	}

	rootCmd.Flags().StringVar(&segmentRotation, "segment-rotation", "256 MB", "segment size that triggers rotation")
	viper.BindEnv("SEGMENT_ROTATION")
	if v := viper.GetString("SEGMENT_ROTATION"); v != "" {
		segmentRotation = v
	}

	rootCmd.Flags().IntVar(&segmentRetention, "segment-retention", engine.DefaultSegmentRetention, "segments kept per index, 0 keeps all")
	viper.BindEnv("SEGMENT_RETENTION")
	if viper.IsSet("SEGMENT_RETENTION") {
		segmentRetention = viper.GetInt("SEGMENT_RETENTION")
	}

	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	viper.BindEnv("LOG_LEVEL")
	if v := viper.GetString("LOG_LEVEL"); v != "" {
		logLevel = v
	}
}

var rootCmd = &cobra.Command{
	Use:   "logsiftd",
	Short: "logsift event search daemon",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	var level zapcore.Level
	if err := level.Set(logLevel); err != nil {
		return err
	}
	log := logger.New(os.Stdout, level)
	defer log.Sync()

	rotation, err := humanize.ParseBytes(segmentRotation)
	if err != nil {
		log.Error("invalid segment rotation size", zap.String("value", segmentRotation), zap.Error(err))
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := engine.Open(dataDir,
		engine.WithLogger(log),
		engine.WithSegmentRotation(int64(rotation)),
		engine.WithSegmentRetention(segmentRetention),
		engine.WithPrometheusRegistry(reg))
	if err != nil {
		log.Error("failed to open engine", zap.String("data_dir", dataDir), zap.Error(err))
		return err
	}
	defer eng.Close()

	opts := []http.Option{http.WithLogger(log)}
	if authToken != "" {
		opts = append(opts, http.WithAuthToken(authToken))
	}
	srv := &nethttp.Server{
		Addr:    httpBindAddress,
		Handler: http.NewHandler(eng, reg, opts...),
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("transport", "http"),
			zap.String("addr", httpBindAddress),
			zap.String("segment_rotation", humanize.Bytes(rotation)))
		errc <- srv.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info("shutting down")
	case err := <-errc:
		log.Error("http server failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
