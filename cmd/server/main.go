package main

import (
	"context"
	"log"

	"github.com/awnumar/memguard"

	"github.com/dmitrijs2005/flyfile/internal/server"
	"github.com/dmitrijs2005/flyfile/internal/server/config"
)

func main() {
	// wipe enclaves (the master key) on interrupt and on exit
	memguard.CatchInterrupt()
	defer memguard.Purge()

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)
}
