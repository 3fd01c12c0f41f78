package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagRingSize   int
	flagRedundancy int
	flagPayloadPT  uint8
	flagFrames     int
	flagHelp       bool
)

func init() {
	flag.IntVarP(&flagRingSize, "ring-size", "r", 16, "Per-participant key ring size")
	flag.IntVarP(&flagRedundancy, "redundancy", "d", 1, "RFC 2198 redundancy level")
	flag.Uint8VarP(&flagPayloadPT, "payload-type", "t", 111, "Inner Opus payload type")
	flag.IntVarP(&flagFrames, "frames", "n", 5, "Number of frames to relay")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `Frame-level end-to-end encryption for a WebRTC conference

Usage: e2eectl [OPTION]... <command>

Commands:
  roundtrip   Encrypt and decrypt one sample frame, printing the wire layout
  relay       Join two in-process engines over a loopback transport and stream frames

Options:
  -r, --ring-size=NUM     Per-participant key ring size (default: 16)
  -d, --redundancy=NUM    RFC 2198 redundancy level (default: 1)
  -t, --payload-type=NUM  Inner Opus payload type (default: 111)
  -n, --frames=NUM        Number of frames to relay (default: 5)
  -h, --help              Print this help message and exit`

func help() {
	c := color.New(color.FgCyan)
	g := color.New(color.FgGreen)

	g.Printf(" e2ee ")
	c.Println("ctl")
	fmt.Println(helpString)
}
