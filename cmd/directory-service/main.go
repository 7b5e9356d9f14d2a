// cmd/directory-service/main.go
package main

import (
	"idsimplify/internal/bootstrap"
	"idsimplify/internal/directoryapi"
	"idsimplify/pkg/config"
	"idsimplify/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel).With("service", "directory-service")

	app := bootstrap.Must(cfg, log)
	api := directoryapi.New(app.Service, app.Graph(), app.Schemas, log)
	app.Serve("directory-service", cfg.DirectoryAddr, app.Router("directory-service", api.Mount))
}
