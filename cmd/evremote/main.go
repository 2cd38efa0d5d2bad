package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/kennygrant/sanitize"

	"k8s.io/klog/v2"

	"github.com/evremote/evremote/internal/api"
	"github.com/evremote/evremote/internal/bus"
	"github.com/evremote/evremote/internal/capture"
	"github.com/evremote/evremote/internal/discovery"
	"github.com/evremote/evremote/internal/evdev"
)

func main() {
	appContext, appCancel := context.WithCancel(context.Background())
	appWaitGroup := &sync.WaitGroup{}

	flags := initFlags()
	config := flags.config

	if _, err := os.Stat(config.DeviceDescriptor); err != nil {
		logCandidates()
		klog.Fatalf("device_descriptor %q is not accessible: %v", config.DeviceDescriptor, err)
	}

	mode, err := capture.ParseMode(config.Type)
	if err != nil {
		klog.Fatalf("invalid type: %v", err)
	}

	// The grab is exclusive: from here until shutdown no other consumer on
	// the host receives events from this device.
	dev, err := evdev.Acquire(config.DeviceDescriptor)
	if err != nil {
		klog.Fatalf("failed to acquire %q: %v", config.DeviceDescriptor, err)
	}

	monitor, err := capture.NewPathMonitor(config.DeviceDescriptor)
	if err != nil {
		dev.Release()
		klog.Fatalf("failed to monitor %q: %v", config.DeviceDescriptor, err)
	}
	defer monitor.Close()

	notifications := bus.New(bus.WithLogger[capture.Notification](klogLogger{}))
	defer notifications.Close()

	// Unwound in reverse: cancel first, join the goroutines, then tear down
	// the bus and the watcher they were using.
	defer appWaitGroup.Wait()
	defer appCancel()

	loop, err := capture.NewLoop(capture.LoopConfig{
		Descriptor: config.DeviceDescriptor,
		Mode:       mode,
		Device:     sanitize.BaseName(filepath.Base(config.DeviceDescriptor)),
		Monitor:    monitor,
	}, dev, notifications)
	if err != nil {
		dev.Release()
		klog.Fatalf("failed to build capture loop: %v", err)
	}

	klog.Infof("capturing %s (type=%s)", config.DeviceDescriptor, config.Type)

	appWaitGroup.Add(1)
	go func() {
		defer appWaitGroup.Done()
		if err := loop.Run(appContext); err != nil && err != context.Canceled {
			klog.Errorf("capture loop: %v", err)
		}
	}()

	if config.Listen != "" {
		server := api.NewServer(config.Listen, notifications, loop.Connected)
		appWaitGroup.Add(1)
		go func() {
			defer appWaitGroup.Done()
			if err := server.Run(appContext); err != nil && err != context.Canceled {
				klog.Errorf("api server: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	for sig := range sigs {
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			klog.Infof("Received signal %q, shutting down", sig.String())
			return
		}
	}
}

// logCandidates lists every input device the daemon can see, so a wrong or
// missing descriptor is actionable from the log alone.
func logCandidates() {
	if aliases, err := discovery.StableAliases(); err == nil {
		for _, alias := range aliases {
			klog.Errorf("candidate descriptor: %s", alias)
		}
	} else {
		klog.Errorf("failed to list stable aliases: %v", err)
	}

	candidates, err := discovery.InputDevices()
	if err != nil {
		klog.Errorf("failed to enumerate input devices: %v", err)
		return
	}
	for _, candidate := range candidates {
		klog.Errorf("candidate device: %s", candidate)
	}
}

// klogLogger adapts klog to the bus logging surface.
type klogLogger struct{}

func (klogLogger) Infof(format string, args ...interface{}) {
	klog.Infof(format, args...)
}
