//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

// Default target to run when none is specified
// If not set, running mage will list available targets
var Default = Build

// Build compiles every command into ./bin
func Build() error {
	mg.Deps(BuildDecoder, BuildRowColMatch, BuildMonitor, BuildUDP, BuildAcquire, BuildMeasureAlgos)
	fmt.Println("Compilation finished")
	return nil
}

func buildCommand(name string) error {
	fmt.Printf("Building %s executable...\n", name)
	ldflags := os.Getenv("CGO_LDFLAGS")
	cflags := os.Getenv("CGO_CFLAGS")
	cmd := exec.Command("go", "build", "-o", "./bin/"+name, "./"+name)
	cmd.Env = append(os.Environ(),
		"CGO_ENABLED=1",
		fmt.Sprintf("CGO_LDFLAGS=%s", ldflags),
		fmt.Sprintf("CGO_CFLAGS=%s", cflags))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func BuildDecoder() error {
	return buildCommand("decoder")
}

func BuildRowColMatch() error {
	return buildCommand("rowcolmatch")
}

func BuildMonitor() error {
	return buildCommand("apxmonitor")
}

func BuildUDP() error {
	return buildCommand("apxudp")
}

func BuildAcquire() error {
	return buildCommand("apxacquire")
}

func BuildMeasureAlgos() error {
	return buildCommand("measureAlgos")
}

// Test runs the unit tests of the library and the commands
func Test() error {
	cmd := exec.Command("go", "test", "./pkg/...", "./rowcolmatch/...")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
