// Command agent is a terminal watcher for one roll-call sheet. It logs
// in, joins the sheet's push channel and prints the roster every time
// the replica changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"permappel/internal/agent"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOrDefault("PERMAPPEL_SERVER", "http://localhost:3000"), "server base URL")
	username := flag.String("user", os.Getenv("PERMAPPEL_USER"), "account username")
	password := flag.String("pass", os.Getenv("PERMAPPEL_PASSWORD"), "account password")
	sheetID := flag.String("sheet", "", "sheet id to watch, e.g. 2026-01-12_M1")
	flag.Parse()

	if *username == "" || *password == "" || *sheetID == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := agent.New(agent.Config{
		BaseURL:  *server,
		Username: *username,
		Password: *password,
	})
	if err := a.Login(ctx); err != nil {
		log.Fatalf("login failed: %v", err)
	}
	a.Watch(*sheetID)
	a.OnChange = func() { printSheet(a) }

	log.Printf("watching %s on %s", *sheetID, *server)
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("agent stopped: %v", err)
	}
}

func printSheet(a *agent.Agent) {
	snap := a.Snapshot()
	members := a.Members()

	fmt.Printf("\n== %s  (present %d / absent %d / not called %d)\n",
		snap.SheetID, snap.Stats.Present, snap.Stats.Absent, snap.Stats.NotCalled)
	for _, s := range snap.Students {
		marker := " "
		if s.ModifiedBy != "" {
			marker = "*"
		}
		fmt.Printf("  %s %-12s %-20s %s\n", marker, s.ClassName, s.LastName+" "+s.FirstName, s.Status)
	}
	if len(members) > 0 {
		fmt.Printf("  viewers:")
		for _, m := range members {
			fmt.Printf(" %s", m.UserName)
		}
		fmt.Println()
	}
	if !a.Online() {
		fmt.Println("  (offline, reconnecting)")
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
