package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"os"
)

var (
	release = "0.0.0"
	commit  = ""
	date    = "Thu, 01 Jan 1970 00:00:00 +0000"
)

func main() {

	commandInit()

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}

	if errorStatusMessage != nil {
		log.Errorf("%v", errorStatusMessage)
		os.Exit(errorStatusCode)
	}

}
