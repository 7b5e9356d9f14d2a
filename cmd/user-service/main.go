// cmd/user-service/main.go
package main

import (
	"idsimplify/internal/bootstrap"
	"idsimplify/internal/userapi"
	"idsimplify/pkg/config"
	"idsimplify/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel).With("service", "user-service")

	app := bootstrap.Must(cfg, log)
	api := userapi.New(app.Service, app.Schemas, log)
	app.Serve("user-service", cfg.UserAddr, app.Router("user-service", api.Mount))
}
