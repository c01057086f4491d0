package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/codelet-dev/codelet/internal/persist"
	"github.com/codelet-dev/codelet/internal/provider"
	"github.com/codelet-dev/codelet/internal/runner"
	"github.com/codelet-dev/codelet/internal/session"
	"github.com/codelet-dev/codelet/internal/telemetry"
	"github.com/codelet-dev/codelet/tools"
)

func main() {
	dataDir, err := session.DataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	store, err := session.Open(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 {
		if err := runCommand(store, os.Args[1], os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := chat(store); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCommand handles session management subcommands.
func runCommand(store *session.Store, cmd string, args []string) error {
	switch cmd {
	case "list":
		summaries, err := store.List(currentProject())
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		for _, s := range summaries {
			name := s.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("%s  %-20s  %3d messages  %s\n", s.ID, name, s.Messages, s.Updated.Local().Format(time.RFC822))
		}
		return nil
	case "rename":
		if len(args) != 2 {
			return fmt.Errorf("usage: codelet rename <session-id> <name>")
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}
		return store.Rename(id, args[1])
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: codelet delete <session-id>")
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}
		return store.Delete(id)
	default:
		return fmt.Errorf("unknown command %q (expected list, rename, or delete)", cmd)
	}
}

// currentProject resolves the project key used for session grouping:
// CODELET_PROJECT when set, else the working directory name.
func currentProject() string {
	if p := os.Getenv("CODELET_PROJECT"); p != "" {
		return p
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "default"
	}
	return filepath.Base(cwd)
}

func chat(store *session.Store) error {
	// Basic env check (SDK also reads API key)
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return fmt.Errorf("missing ANTHROPIC_API_KEY; export it before running")
	}

	project := currentProject()

	// Resume the most recent session for this project, or start fresh.
	state, resumed, err := store.ResumeLast(project)
	if err != nil {
		return err
	}
	if resumed {
		fmt.Printf("Resuming session %s (%d messages, %d turns)\n",
			state.Manifest.ID, len(state.Manifest.Envelopes), len(state.Turns))
	} else {
		m := session.NewManifest("", project, provider.Claude)
		state = &session.SessionState{Manifest: m}
		fmt.Printf("Starting session %s\n", m.ID)
	}

	client := provider.NewAnthropicClient()
	r := runner.New(client, tools.Registry(), store)
	model := provider.DefaultModel

	// Set up graceful shutdown on Ctrl-C (SIGINT) / SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigch)
	go func() {
		<-sigch
		fmt.Println("\nExiting...")
		cancel()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Chat with Claude (Ctrl-C to quit)")

	// stdin reader goroutine -> lines into channel
	inputCh := make(chan string)
	go func() {
		for scanner.Scan() {
			inputCh <- scanner.Text()
		}
		close(inputCh)
	}()

outer:
	for {
		fmt.Print("[94mYou[0m: ")
		var (
			user string
			ok   bool
		)
		select {
		case <-ctx.Done():
			break outer
		case user, ok = <-inputCh:
			if !ok {
				break outer
			}
		}

		telemetry.EmitLocalFeatures(ctx, user)

		env := persist.MessageEnvelope{
			UUID:      uuid.New(),
			Timestamp: time.Now().UTC(),
			Role:      persist.RoleUser,
			Provider:  state.Manifest.Provider,
			Content:   []persist.ContentBlock{persist.TextBlock{Text: user}},
		}
		if last, ok := state.Manifest.LastUUID(); ok {
			parent := last
			env.ParentUUID = &parent
		}
		if err := state.Manifest.Append(env); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		state.Turns = session.DeriveTurns(state.Manifest.Envelopes)

		// Keep stepping while the assistant keeps calling tools.
		for {
			ranTools, err := r.RunOneStep(ctx, model, state)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				break
			}
			if !ranTools {
				break // done with assistant turn
			}
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: stdin read error: %v\n", err)
	}
	return nil
}
