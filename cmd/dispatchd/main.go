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

	"github.com/fieldline/casesync/internal/buildinfo"
	"github.com/fieldline/casesync/internal/flagx"
	"github.com/fieldline/casesync/internal/server"
	"github.com/fieldline/casesync/internal/server/config"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	args := flagx.FilterArgs(os.Args[1:], []string{"-mode", "-user"})
	fs := flag.NewFlagSet("dispatchd", flag.ContinueOnError)
	mode := fs.String("mode", "run", "one of: run, register")
	user := fs.String("user", "", "username for register")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("%v", err)
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	switch *mode {
	case "run":
		app.Run(ctx)

	case "register":
		username, password, err := promptCredentials(*user)
		if err != nil {
			log.Fatalf("register: %v", err)
		}
		if err := app.Register(ctx, username, password); err != nil {
			log.Fatalf("register: %v", err)
		}
		fmt.Printf("account %s created\n", username)

	default:
		log.Fatalf("unknown mode %q", *mode)
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
