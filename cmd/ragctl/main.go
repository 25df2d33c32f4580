package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"finrag/internal/client"
)

func main() {
	app := &cli.App{
		Name:  "ragctl",
		Usage: "Upload financial documents and chat with them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "api-base",
				Usage:    "backend base URL, e.g. http://localhost:8080",
				EnvVars:  []string{"FINRAG_API_BASE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "state-dir",
				Usage:   "directory holding the session record and preferences",
				EnvVars: []string{"FINRAG_STATE_DIR"},
				Value:   defaultStateDir(),
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "delay between status checks",
				Value: client.DefaultPollInterval,
			},
			&cli.IntFlag{
				Name:  "poll-attempts",
				Usage: "maximum number of status checks before giving up",
				Value: client.DefaultMaxPollAttempts,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "upload a PDF and wait until it is ready",
				ArgsUsage: "<file.pdf>",
				Action:    runUpload,
			},
			{
				Name:   "status",
				Usage:  "show the current session status",
				Action: runStatus,
			},
			{
				Name:      "ask",
				Usage:     "ask a question about the uploaded document",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "sources", Usage: "print source excerpts"},
				},
				Action: runAsk,
			},
			{
				Name:   "history",
				Usage:  "print the conversation so far",
				Action: runHistory,
			},
			{
				Name:   "clear",
				Usage:  "delete the session and reset local state",
				Action: runClear,
			},
			{
				Name:      "theme",
				Usage:     "show or set the display theme (light|dark)",
				ArgsUsage: "[light|dark]",
				Action:    runTheme,
			},
			{
				Name:   "health",
				Usage:  "check backend health",
				Action: runHealth,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".finrag"
	}
	return filepath.Join(home, ".finrag")
}

func buildMachine(c *cli.Context) (*client.Machine, error) {
	api, err := client.New(client.Config{BaseURL: c.String("api-base")})
	if err != nil {
		return nil, err
	}
	stateDir := c.String("state-dir")
	tabs, err := client.NewTabStore(stateDir)
	if err != nil {
		return nil, err
	}
	prefs, err := client.NewPrefStore(stateDir)
	if err != nil {
		return nil, err
	}
	poller := client.NewPoller(c.Duration("poll-interval"), c.Int("poll-attempts"))
	return client.NewMachine(api, poller, tabs, prefs)
}

func runUpload(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: ragctl upload <file.pdf>", 1)
	}
	path := c.Args().First()

	m, err := buildMachine(c)
	if err != nil {
		return err
	}
	if !m.SelectFile(path) {
		return cli.Exit(m.Notice().Text, 1)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := c.Context
	if err := m.Upload(ctx, f); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	fmt.Printf("session %s: %s\n", m.SessionID(), m.StatusMessage())

	fmt.Println("waiting for processing...")
	if err := m.Poll(ctx); err != nil {
		if notice := m.Notice(); notice.Text != "" {
			return cli.Exit(notice.Text, 1)
		}
		return err
	}
	if m.Phase() == client.PhaseError {
		return cli.Exit("processing failed: "+m.StatusMessage(), 1)
	}
	fmt.Println(m.StatusMessage())
	return nil
}

func runStatus(c *cli.Context) error {
	m, err := buildMachine(c)
	if err != nil {
		return err
	}
	if err := m.Resume(c.Context); err != nil {
		return err
	}
	if m.SessionID() == "" {
		fmt.Println("no active session")
		return nil
	}
	fmt.Printf("session:  %s\n", m.SessionID())
	fmt.Printf("document: %s\n", m.FileName())
	fmt.Printf("phase:    %s\n", m.Phase())
	fmt.Printf("message:  %s\n", m.StatusMessage())
	return nil
}

func runAsk(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: ragctl ask \"<question>\"", 1)
	}
	question := c.Args().First()

	m, err := buildMachine(c)
	if err != nil {
		return err
	}
	if err := m.Resume(c.Context); err != nil {
		return err
	}
	if m.Phase() != client.PhaseReady {
		return cli.Exit("session not ready, run 'ragctl status'", 1)
	}

	if err := m.Chat(c.Context, question); err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	turns := m.Turns()
	last := turns[len(turns)-1]
	fmt.Println(last.Content)
	if c.Bool("sources") {
		for i, src := range last.Sources {
			fmt.Printf("\n[%d] (%s) %s\n", i+1, src.SourceType, src.Content)
		}
	}
	return nil
}

func runHistory(c *cli.Context) error {
	m, err := buildMachine(c)
	if err != nil {
		return err
	}
	if err := m.Resume(c.Context); err != nil {
		return err
	}
	if m.SessionID() == "" {
		fmt.Println("no active session")
		return nil
	}
	for _, turn := range m.Turns() {
		fmt.Printf("%s: %s\n", turn.Role, turn.Content)
	}
	return nil
}

func runClear(c *cli.Context) error {
	m, err := buildMachine(c)
	if err != nil {
		return err
	}
	if err := m.Resume(c.Context); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	m.Clear(ctx)
	fmt.Println("session cleared")
	return nil
}

func runTheme(c *cli.Context) error {
	m, err := buildMachine(c)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		fmt.Println(m.Theme())
		return nil
	}
	if err := m.SetTheme(c.Args().First()); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Println(m.Theme())
	return nil
}

func runHealth(c *cli.Context) error {
	api, err := client.New(client.Config{BaseURL: c.String("api-base")})
	if err != nil {
		return err
	}
	if err := api.Health(c.Context); err != nil {
		return cli.Exit("backend unhealthy: "+err.Error(), 1)
	}
	fmt.Println("ok")
	return nil
}
