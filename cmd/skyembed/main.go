package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/MrSnakeDoc/skyembed/internal/app"
	"github.com/MrSnakeDoc/skyembed/internal/config"
	"github.com/MrSnakeDoc/skyembed/internal/version"
)

func main() {
	flagSet := pflag.NewFlagSet("skyembed", pflag.ContinueOnError)
	showVersion := flagSet.BoolP("version", "v", false, "print version and exit")
	checkConfig := flagSet.Bool("check-config", false, "validate the environment configuration and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	switch {
	case *showVersion:
		fmt.Println(version.String())
		return
	case *checkConfig:
		cfg, err := config.Parse()
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ invalid configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ configuration ok: %+v\n", cfg.Redacted())
		return
	}

	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ skyembed failed to start: %v", err)
	}
}
