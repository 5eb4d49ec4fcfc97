package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/peerkeeper/internal/app"
	"github.com/dmitrijs2005/peerkeeper/internal/cli"
	"github.com/dmitrijs2005/peerkeeper/internal/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	reader := bufio.NewReader(os.Stdin)
	for _, gid := range cfg.Identities {
		pin, err := cli.GetPin(reader, fmt.Sprintf("PIN for %s", gid), os.Stderr)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if _, err := a.Node().Unlock(ctx, gid, pin); err != nil {
			log.Fatalf("unlock %s: %v", gid, err)
		}
	}

	a.Run(ctx)
}
