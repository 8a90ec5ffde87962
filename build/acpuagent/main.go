package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/config"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/controller"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/cpureader"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/hint"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/model"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/monitoring"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/service"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/stats"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/workdurations"
	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/fsys"
	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/timesource"
)

func main() {
	var socketPath string
	var metricsAddr string
	var propertiesFile string
	var loadReaderKind string
	var verbosity int

	rootCmd := &cobra.Command{
		Use:   "acpuagent",
		Short: "On-device adaptive CPU throttling agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(socketPath, metricsAddr, propertiesFile, loadReaderKind, verbosity)
		},
	}
	rootCmd.Flags().StringVar(&socketPath, "socket-path", "/run/acpuagent.sock",
		"The unix socket path the hint and work-duration endpoint binds to.")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-bind-address", ":10001",
		"The address the metric endpoint binds to.")
	rootCmd.Flags().StringVar(&propertiesFile, "properties-file", "/etc/adaptivecpu.properties",
		"The properties file read on config reloads.")
	rootCmd.Flags().StringVar(&loadReaderKind, "cpu-load-reader", "",
		"Optional CPU load reader exported as metrics: procstat or sysdevices.")
	rootCmd.Flags().IntVarP(&verbosity, "verbosity", "v", 0, "Log verbosity level.")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(socketPath, metricsAddr, propertiesFile, loadReaderKind string, verbosity int) error {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zapLog, err := zapConfig.Build()
	if err != nil {
		return err
	}
	log := zapr.NewLogger(zapLog)
	setupLog := log.WithName("setup")

	filesystem := fsys.New()
	clock := timesource.New()
	properties := config.NewIniPropertyStore(propertiesFile, log.WithName("properties"))

	processor := workdurations.NewProcessor(log.WithName("workDurations"))
	reader := cpureader.NewKernelCpuFeatureReader(filesystem, clock, log.WithName("featureReader"))
	decisionModel := model.New(log.WithName("model"))
	agentStats := stats.New(clock)
	hintManager := hint.NewSysfsManager(log.WithName("hintManager"))

	agent := controller.New(processor, reader, decisionModel, agentStats, hintManager,
		clock, properties, log.WithName("controller"))

	registry := prometheus.NewRegistry()
	monitoring.RegisterStatsCollectors(registry, agentStats, log.WithName(monitoring.LogTopName))

	if loadReaderKind != "" {
		var loadReader cpureader.LoadReader
		switch loadReaderKind {
		case "procstat":
			loadReader = cpureader.NewProcStatLoadReader(filesystem, log.WithName("loadReader"))
		case "sysdevices":
			loadReader = cpureader.NewSysDevicesLoadReader(filesystem, clock, log.WithName("loadReader"))
		default:
			return fmt.Errorf("unknown CPU load reader: %s", loadReaderKind)
		}
		if err := loadReader.Init(); err != nil {
			setupLog.Error(err, "unable to initialize CPU load reader", "kind", loadReaderKind)
			return err
		}
		monitoring.RegisterLoadCollectors(registry, loadReader, log.WithName(monitoring.LogTopName))

		frequencyReader := cpureader.NewCpuFrequencyReader(filesystem, log.WithName("frequencyReader"))
		if err := frequencyReader.Init(); err != nil {
			setupLog.Error(err, "unable to initialize CPU frequency reader")
			return err
		}
		monitoring.RegisterFrequencyCollectors(registry, frequencyReader, log.WithName(monitoring.LogTopName))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/dump", func(w http.ResponseWriter, _ *http.Request) {
		agent.DumpState(w)
	})
	go func() {
		setupLog.Info("serving metrics", "address", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			setupLog.Error(err, "metrics server stopped")
		}
	}()

	endpoint, err := service.Listen(socketPath, agent, log.WithName("endpoint"))
	if err != nil {
		setupLog.Error(err, "unable to bind endpoint socket")
		return err
	}
	go func() {
		if err := endpoint.Serve(); err != nil {
			setupLog.Error(err, "endpoint stopped")
		}
	}()

	setupLog.Info("agent started", "socket", socketPath)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	setupLog.Info("shutting down")
	agent.HintReceived(false)
	return endpoint.Close()
}
