// Command ttsctl drives a running tts-service over NATS.
package main

import (
	"fmt"
	"os"
)

func main() {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ttsctl: %v\n", err)
		os.Exit(1)
	}
}
