package main

import (
	"flag"
	"net"
	"net/http"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"KubeShare/pkg/devicescheduler"
	"KubeShare/pkg/logger"
	"KubeShare/pkg/signals"
)

var (
	port          = flag.String("port", "50051", "The port the per-GPU scheduler listens on for pod-manager connections.")
	gpuIndex      = flag.Int("gpu-index", 0, "The NVML index of the device this daemon owns, used to stamp its UUID onto log lines and metrics.")
	quota         = flag.Float64("quota", 250, "The static fallback quota, in milliseconds.")
	minQuota      = flag.Float64("min-quota", 100, "The minimum quota, in milliseconds, ever granted to a client.")
	window        = flag.Float64("window", 1000, "The sliding time-fairness window size, in milliseconds.")
	limitFileDir  = flag.String("limit-file-dir", "/kubeshare/scheduler", "The directory containing and watched for the resource-config file.")
	limitFileName = flag.String("limit-file", "resource-config.txt", "The resource-config file name within limit-file-dir.")
	metricsPort   = flag.String("metrics-port", "0", "The port to expose prometheus metrics on. 0 disables the exporter.")
	level         = flag.Int64("level", 2, "The level order of log.")
)

const logPath = "kubeshare-gpu-scheduler.log"

// resolveGPUUUID reads the UUID of the device at index through NVML. NVML
// unavailability is not fatal here: enumeration is only for log/metric
// attribution, so a failure falls back to "unknown" rather than blocking
// startup.
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

func main() {
	flag.Parse()

	ksl := logger.New(*level, logPath)
	gpuUUID := resolveGPUUUID(*gpuIndex, ksl)
	logger.WithGPU(ksl, gpuUUID)
	ksl.Infof("starting gpu-scheduler on port %s, window=%.0fms, quota=%.0fms", *port, *window, *quota)

	stopCh := signals.SetupSignalHandler()

	registry := devicescheduler.NewRegistry(*quota, *minQuota, *window)
	registry.LoadOrFatal(devicescheduler.ConfigPath(*limitFileDir, *limitFileName), ksl)

	clk := devicescheduler.NewClock()
	sched := devicescheduler.NewScheduler(registry, *window, clk, ksl)

	watcher := devicescheduler.NewWatcher(registry, *limitFileDir, *limitFileName, ksl)
	go func() {
		if err := watcher.Run(stopCh); err != nil {
			ksl.Warnf("config watcher exited: %v", err)
		}
	}()

	if *metricsPort != "0" {
		metrics := devicescheduler.NewMetrics(sched, ksl, gpuUUID)
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(metrics)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		go func() {
			addr := ":" + *metricsPort
			ksl.Infof("exposing metrics at http://localhost%s/metrics", addr)
			ksl.Warn(http.ListenAndServe(addr, mux))
		}()
	}

	go sched.Run(stopCh)

	ln, err := net.Listen("tcp", ":"+*port)
	if err != nil {
		ksl.Fatalf("failed to listen on port %s: %v", *port, err)
	}
	defer ln.Close()

	srv := devicescheduler.NewServer(sched, ksl)
	go func() {
		if err := srv.Serve(ln); err != nil {
			ksl.Errorf("server stopped: %v", err)
		}
	}()

	<-stopCh
	ksl.Info("shutting down gpu-scheduler")
}
