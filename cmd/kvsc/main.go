// Command kvsc is the client binary described in spec.md §6:
//
//	kvsc <session_tag> <register_pipe_path>
//
// It constructs its three pipe paths as /tmp/req<tag>, /tmp/resp<tag>,
// /tmp/notif<tag>, then reads commands from stdin: SUBSCRIBE <key>,
// UNSUBSCRIBE <key>, WAIT <ms>, DISCONNECT. Notifications are printed to
// stdout as they arrive, on their own goroutine — the Go equivalent of
// original_source/src/client/main.c's notification_handler thread.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"kvsd/internal/kvsclient"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <session_tag> <register_pipe_path>\n", os.Args[0])
		os.Exit(1)
	}
	tag := os.Args[1]
	registerPath := os.Args[2]

	reqPath := "/tmp/req" + tag
	respPath := "/tmp/resp" + tag
	notifPath := "/tmp/notif" + tag

	client, result, err := kvsclient.Connect(reqPath, respPath, registerPath, notifPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to the server: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Server returned %d for operation: connect\n", result)
	if result != 0 {
		client.Close()
		os.Exit(1)
	}

	go func() {
		_ = client.ReadNotifications(func(line string) {
			fmt.Println(line)
		})
	}()

	runCommandLoop(client)
}

func runCommandLoop(client *kvsclient.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		verb, rest := splitVerb(strings.TrimSpace(scanner.Text()))
		switch strings.ToUpper(verb) {
		case "":
			continue

		case "DISCONNECT":
			result, err := client.Disconnect()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to disconnect from the server: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Server returned %d for operation: disconnect\n", result)
			return

		case "SUBSCRIBE":
			if rest == "" {
				fmt.Fprintln(os.Stderr, "Invalid command. See HELP for usage")
				continue
			}
			result, err := client.Subscribe(rest)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Command subscribe failed: %v\n", err)
				continue
			}
			fmt.Printf("Server returned %d for operation: subscribe\n", result)

		case "UNSUBSCRIBE":
			if rest == "" {
				fmt.Fprintln(os.Stderr, "Invalid command. See HELP for usage")
				continue
			}
			result, err := client.Unsubscribe(rest)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Command unsubscribe failed: %v\n", err)
				continue
			}
			fmt.Printf("Server returned %d for operation: unsubscribe\n", result)

		case "WAIT":
			ms, err := strconv.Atoi(rest)
			if err != nil || ms < 0 {
				fmt.Fprintln(os.Stderr, "Invalid command. See HELP for usage")
				continue
			}
			if ms > 0 {
				fmt.Println("Waiting...")
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}

		case "HELP":
			fmt.Print("Available commands:\n" +
				"  SUBSCRIBE <key>\n" +
				"  UNSUBSCRIBE <key>\n" +
				"  WAIT <delay_ms>\n" +
				"  DISCONNECT\n")

		default:
			fmt.Fprintln(os.Stderr, "Invalid command. See HELP for usage")
		}
	}
	// Input ended without an explicit DISCONNECT; clean up locally so the
	// pipes don't linger (the source's client leaves this to the user).
	client.Close()
}

func splitVerb(line string) (verb, rest string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}
