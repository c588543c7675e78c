package main

import (
	"log"
	"net"
	"net/http"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"KubeShare/pkg/devicescheduler"
	"KubeShare/pkg/logger"
	"KubeShare/pkg/signals"
)

type gpuSchedulerArgs struct {
	Port          string  `long:"port" description:"The port the per-GPU scheduler listens on for pod-manager connections." default:"50051"`
	GPUIndex      int     `long:"gpu-index" description:"The NVML index of the device this daemon owns, used to stamp its UUID onto log lines and metrics." default:"0"`
	Quota         float64 `long:"quota" description:"The static fallback quota, in milliseconds, used until a client reports a burst." default:"250"`
	MinQuota      float64 `long:"min-quota" description:"The minimum quota, in milliseconds, ever granted to a client." default:"100"`
	Window        float64 `long:"window" description:"The sliding time-fairness window size, in milliseconds." default:"1000"`
	LimitFileDir  string  `long:"limit-file-dir" description:"The directory containing and watched for the resource-config file." default:"/kubeshare/scheduler"`
	LimitFileName string  `long:"limit-file" description:"The resource-config file name within limit-file-dir." default:"resource-config.txt"`
	MetricsPort   string  `long:"metrics-port" description:"The port to expose prometheus metrics on. 0 disables the exporter." default:"0"`
	LogLevel      int64   `long:"level" description:"The level order of log." default:"2"`
}

// resolveGPUUUID reads the UUID of the device at index through NVML. NVML
// unavailability (no driver, no GPU, running in a test container) is not
// fatal for a scheduler daemon — unlike the device-manager's GPU inventory
// collector, enumeration here is only for log/metric attribution, so a
// failure falls back to "unknown" rather than blocking startup.
func resolveGPUUUID(index int, ksl *logrus.Logger) string {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		ksl.Warnf("NVML unavailable, running without a device UUID: %s", nvml.ErrorString(ret))
		return "unknown"
	}
	defer nvml.Shutdown()

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		ksl.Warnf("failed to get NVML handle for device %d: %s", index, nvml.ErrorString(ret))
		return "unknown"
	}

	uuid, ret := device.GetUUID()
	if ret != nvml.SUCCESS {
		ksl.Warnf("failed to read UUID for device %d: %s", index, nvml.ErrorString(ret))
		return "unknown"
	}
	return uuid
}

func runGPUScheduler(_ *cobra.Command, _ []string) error {
	const logPath = "kubeshare-gpu-scheduler.log"

	var args gpuSchedulerArgs
	if _, err := flags.Parse(&args); err != nil {
		log.Fatal(err)
	}

	ksl := logger.New(args.LogLevel, logPath)
	gpuUUID := resolveGPUUUID(args.GPUIndex, ksl)
	logger.WithGPU(ksl, gpuUUID)
	ksl.Infof("starting gpu-scheduler on port %s, window=%.0fms, quota=%.0fms", args.Port, args.Window, args.Quota)

	stopCh := signals.SetupSignalHandler()

	registry := devicescheduler.NewRegistry(args.Quota, args.MinQuota, args.Window)
	configPath := devicescheduler.ConfigPath(args.LimitFileDir, args.LimitFileName)
	registry.LoadOrFatal(configPath, ksl)

	clk := devicescheduler.NewClock()
	sched := devicescheduler.NewScheduler(registry, args.Window, clk, ksl)

	watcher := devicescheduler.NewWatcher(registry, args.LimitFileDir, args.LimitFileName, ksl)
	go func() {
		if err := watcher.Run(stopCh); err != nil {
			ksl.Warnf("config watcher exited: %v", err)
		}
	}()

	if args.MetricsPort != "0" {
		metrics := devicescheduler.NewMetrics(sched, ksl, gpuUUID)
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(metrics)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		go func() {
			addr := ":" + args.MetricsPort
			ksl.Infof("exposing metrics at http://localhost%s/metrics", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				ksl.Warnf("metrics server exited: %v", err)
			}
		}()
	}

	go sched.Run(stopCh)

	ln, err := net.Listen("tcp", ":"+args.Port)
	if err != nil {
		ksl.Fatalf("failed to listen on port %s: %v", args.Port, err)
	}
	defer ln.Close()

	srv := devicescheduler.NewServer(sched, ksl)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case <-stopCh:
		ksl.Info("shutting down gpu-scheduler")
	case err := <-serveErr:
		ksl.Errorf("server stopped: %v", err)
		return err
	}
	return nil
}
