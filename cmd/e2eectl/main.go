package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/cascadia-rtc/e2ee"
	"github.com/cascadia-rtc/e2ee/internal/logging"
)

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "expected a command: roundtrip or relay")
		help()
		os.Exit(1)
	}

	config := e2ee.DefaultConfig()
	config.RingSize = flagRingSize
	config.RedundancyLevel = flagRedundancy
	config.InnerOpusPayloadType = flagPayloadPT
	if err := config.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.DefaultLogger.Named("e2eectl")

	var err error
	switch args[0] {
	case "roundtrip":
		err = runRoundtrip(config, logger)
	case "relay":
		err = runRelay(config, logger, flagFrames)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		help()
		os.Exit(1)
	}
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
