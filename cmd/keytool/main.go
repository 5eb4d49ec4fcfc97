package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/dmitrijs2005/peerkeeper/internal/accounts"
	"github.com/dmitrijs2005/peerkeeper/internal/cli"
	"github.com/dmitrijs2005/peerkeeper/internal/logging"
	"github.com/dmitrijs2005/peerkeeper/internal/storage"
)

func main() {
	fs := flag.NewFlagSet("keytool", flag.ExitOnError)
	dataDir := fs.String("d", "./data", "data directory")
	_ = fs.Parse(os.Args[1:])

	ctx := context.Background()

	db, err := storage.OpenAccounts(ctx, *dataDir)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()

	svc := accounts.NewService(db, logging.New(os.Stderr, "warn", "text"))
	k := cli.NewKeytool(svc, os.Stdin, os.Stdout)

	if err := k.Run(ctx, fs.Args()); err != nil {
		if !errors.Is(err, cli.ErrUsage) {
			log.Printf("%v", err)
		}
		db.Close()
		os.Exit(1)
	}
}
