package main

import (
	"context"
	"log"
	"os"
	"slices"

	"github.com/dmitrijs2005/photosync/internal/agent"
	"github.com/dmitrijs2005/photosync/internal/agent/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := agent.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if slices.Contains(os.Args[1:], "-pair") {
		if err := app.Pair(ctx, os.Stdin, os.Stdout); err != nil {
			log.Printf("pairing failed: %v", err)
			os.Exit(1)
		}
		return
	}

	app.Run(ctx)

}
