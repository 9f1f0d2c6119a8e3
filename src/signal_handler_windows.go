//go:build windows

package main

import (
	"os"

	"github.com/apimgr/devrestore/src/server/service"
	"github.com/apimgr/devrestore/src/utils"
)

var platformSignals []os.Signal

func handlePlatformSignal(sig os.Signal, appLogger *utils.Logger, audit *service.AuditLogger) {}
