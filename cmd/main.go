package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use: "kubeshare",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:  "gpu-scheduler",
			RunE: runGPUScheduler,
		},
	)

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
