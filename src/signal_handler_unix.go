//go:build !windows

package main

import (
	"os"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/apimgr/devrestore/src/server/service"
	"github.com/apimgr/devrestore/src/utils"
)

var platformSignals = []os.Signal{
	// Reopen log files
	syscall.SIGUSR1,
	// Toggle debug logging
	syscall.SIGUSR2,
}

func handlePlatformSignal(sig os.Signal, appLogger *utils.Logger, audit *service.AuditLogger) {
	log := appLogger.Server
	switch sig {
	case syscall.SIGUSR1:
		log.Info().Msg("received SIGUSR1, rotating log files")
		if err := appLogger.RotateLogs(); err != nil {
			log.Error().Err(err).Msg("failed to rotate logs")
		}
		if err := audit.Reopen(); err != nil {
			log.Error().Err(err).Msg("failed to reopen audit log")
		}

	case syscall.SIGUSR2:
		if zerolog.GlobalLevel() == zerolog.DebugLevel {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		log.Info().Str("level", zerolog.GlobalLevel().String()).Msg("received SIGUSR2, toggled log level")
	}
}
