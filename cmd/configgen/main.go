package main

import (
	"log"

	"github.com/danmuck/wsharness/internal/config"
	flag "github.com/spf13/pflag"
)

func main() {
	kind := flag.String("kind", "receiver", "config kind: receiver|handshake")
	output := flag.StringP("output", "o", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.StringP("input", "i", "", "config path for validation (defaults to cmd/harnessctl/config.toml)")
	force := flag.BoolP("force", "f", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = "cmd/harnessctl/config.toml"
		}
		cfg, err := config.LoadHarnessConfig(path)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := config.ServerConfig(cfg); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", cfg.Role, path)
		return
	}

	target := *output
	if target == "" {
		target = "cmd/harnessctl/config.toml"
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
