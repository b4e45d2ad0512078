package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

func readLine(r *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	t, _ := r.ReadString('\n')
	return strings.TrimSpace(t)
}

// readPassword reads a secret without echo.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read hidden input: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// masked never reveals any part of a secret.
func masked(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return "(not set)"
	}
	return "***"
}

// die prints an error and waits for Enter before exiting.
// This prevents instant console close on Windows double-click runs.
func die(message string) {
	fmt.Fprintln(os.Stderr, "Error:", message)
	fmt.Fprint(os.Stderr, "Press Enter to close...")
	_, _ = bufio.NewReader(os.Stdin).ReadBytes('\n')
	os.Exit(1)
}
