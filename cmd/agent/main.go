package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/fieldline/casesync/internal/agent"
	"github.com/fieldline/casesync/internal/agent/config"
	"github.com/fieldline/casesync/internal/buildinfo"
	"github.com/fieldline/casesync/internal/flagx"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	args := flagx.FilterArgs(os.Args[1:], []string{"-mode", "-guid", "-user"})
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	mode := fs.String("mode", "run", "one of: run, enqueue, dequeue, status, login")
	guid := fs.String("guid", "", "record guid for enqueue/dequeue")
	user := fs.String("user", "", "username for login")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("%v", err)
	}

	app, err := agent.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	switch *mode {
	case "run":
		app.Run(ctx)

	case "enqueue":
		requireGUID(*guid)
		if err := app.Enqueue(ctx, *guid); err != nil {
			log.Fatalf("enqueue %s: %v", *guid, err)
		}
		fmt.Printf("record %s queued for upload\n", *guid)

	case "dequeue":
		requireGUID(*guid)
		pending, err := app.Dequeue(ctx, *guid)
		if err != nil {
			log.Fatalf("dequeue %s: %v", *guid, err)
		}
		if pending {
			fmt.Printf("record %s is mid-transfer; cancellation takes effect at the next chunk boundary\n", *guid)
		} else {
			fmt.Printf("record %s removed from queue\n", *guid)
		}

	case "status":
		if err := app.Status(ctx, os.Stdout); err != nil {
			log.Fatalf("status: %v", err)
		}

	case "login":
		username, password, err := promptCredentials(*user)
		if err != nil {
			log.Fatalf("login: %v", err)
		}
		if err := app.Login(ctx, username, password); err != nil {
			log.Fatalf("login: %v", err)
		}
		fmt.Println("credentials validated and saved")

	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

func requireGUID(guid string) {
	if guid == "" {
		log.Fatal("missing -guid")
	}
}

func promptCredentials(username string) (string, string, error) {
	reader := bufio.NewReader(os.Stdin)

	if username == "" {
		fmt.Print("username: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		username = strings.TrimSpace(line)
	}

	fmt.Print("password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", "", err
	}

	return username, string(password), nil
}
