package main

import (
	"flag"
	"log"

	loomserver "loom/server"
)

func main() {
	configPath := flag.String("config", "agents.yaml", "Path to agents.yaml config file")
	staticPath := flag.String("static", "static", "Path to static assets directory")
	flag.Parse()

	cfg := loomserver.LoadAppConfig()
	cfg.ConfigPath = *configPath

	opts := []loomserver.Option{
		loomserver.WithHost(cfg.Host),
		loomserver.WithPort(cfg.Port),
		loomserver.WithStaticPath(*staticPath),
	}
	if cfg.GatewayURL != "" {
		opts = append(opts, loomserver.WithGateway(cfg.GatewayURL))
	}
	if cfg.ConfigPath != "" {
		opts = append(opts, loomserver.WithConfigFile(cfg.ConfigPath))
	}

	s := loomserver.New(opts...)
	if err := s.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
