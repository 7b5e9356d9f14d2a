// cmd/tenancy-service/main.go
package main

import (
	"idsimplify/internal/bootstrap"
	"idsimplify/internal/tenancyapi"
	"idsimplify/pkg/config"
	"idsimplify/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel).With("service", "tenancy-service")

	app := bootstrap.Must(cfg, log)
	api := tenancyapi.New(app.Service, app.Schemas, log)
	app.Serve("tenancy-service", cfg.TenancyAddr, app.Router("tenancy-service", api.Mount))
}
