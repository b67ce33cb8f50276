/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/collabd/collabd/executor"
)

// Version of collabd.
var Version string

func main() {
	// Parse command line options
	var shouldPrintVersion bool
	flag.BoolVar(&shouldPrintVersion, "version", false, "Print version and exit")
	var configFileName string
	flag.StringVar(&configFileName, "config", "/usr/local/etc/collabd/collabd.toml", "Configuration file location")
	var logFile string
	flag.StringVar(&logFile, "log-file", "", "Log file location (defaults to stderr)")
	var cpuProfile string
	flag.StringVar(&cpuProfile, "cpu-profile", "", "Enable CPU profiling (output to specified file)")
	var memProfile string
	flag.StringVar(&memProfile, "mem-profile", "", "Enable memory profiling (output to specified file)")
	var blockProfile string
	flag.StringVar(&blockProfile, "block-profile", "", "Enable block profiling (output to specified file)")
	flag.Parse()

	if shouldPrintVersion {
		fmt.Println("collabd: Collaborative Workspace Sync Daemon")
		fmt.Println("Version " + Version)
		fmt.Println("Copyright (C) 2025-2026 the collabd authors")
		fmt.Println("Released under the terms of the MIT License")
		return
	}

	config := &executor.CollabdConfig{
		Version:        Version,
		ConfigFileName: configFileName,
		LogFile:        logFile,
		CpuProfile:     cpuProfile,
		MemProfile:     memProfile,
		BlockProfile:   blockProfile,
	}

	daemon := executor.NewCollabd(config)
	daemon.Start()

	// Set up signal handler channel and wait for interrupt
	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)
	receivedSig := <-sigChannel
	fmt.Println("Received signal " + receivedSig.String() + " - exiting")

	daemon.Stop()
}
