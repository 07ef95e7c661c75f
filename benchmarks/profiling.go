package benchmarks

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"runtime"
	"runtime/pprof"
)

// startProfiling starts the CPU profile if requested. The returned function
// stops it and writes the heap profile.
func startProfiling(logger *slog.Logger) (func(), error) {
	stop := func() {}
	if cpuprofile != "" {
		if err := os.MkdirAll(saveFile, os.ModePerm); err != nil {
			return stop, fmt.Errorf("benchmarks: profile folder: %w", err)
		}
		cpuProfPath := path.Join(saveFile, cpuprofile)
		logger.Info("profiling CPU", "path", cpuProfPath)
		f, err := os.Create(cpuProfPath)
		if err != nil {
			return stop, fmt.Errorf("benchmarks: create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return stop, fmt.Errorf("benchmarks: start CPU profile: %w", err)
		}
		stop = func() {
			pprof.StopCPUProfile()
			f.Close()
		}
	}

	if memprofile == "" {
		return stop, nil
	}
	stopCPU := stop
	return func() {
		stopCPU()
		memProfPath := path.Join(saveFile, memprofile)
		logger.Info("profiling memory", "path", memProfPath)
		f, err := os.Create(memProfPath)
		if err != nil {
			logger.Error("could not create memory profile", "error", err)
			return
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			logger.Error("could not write memory profile", "error", err)
		}
	}, nil
}
