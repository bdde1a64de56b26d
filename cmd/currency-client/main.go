// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// The currency-client command is an interactive A2A client: it resolves the
// agent card, sends prompts (streaming when the agent supports it), loops on
// input-required tasks and can receive push notifications.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/loomhq/loom/pkg/a2a/client"
	"github.com/loomhq/loom/pkg/a2a/types"
)

func main() {
	agentURL := flag.String("agent", "http://localhost:10000", "base URL of the A2A agent")
	history := flag.Bool("history", false, "print task history after each task")
	usePush := flag.Bool("push", false, "register for push notifications")
	pushReceiver := flag.String("push-receiver", "http://localhost:5000", "URL this client listens on for push notifications")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *agentURL, *history, *usePush, *pushReceiver); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, agentURL string, history, usePush bool, pushReceiver string) error {
	c := client.New(agentURL)

	card, err := c.ResolveCard(ctx)
	if err != nil {
		return fmt.Errorf("resolve agent card: %w", err)
	}
	fmt.Println("======= Agent Card ========")
	printJSON(card)

	pushToken := ""
	if usePush {
		if !card.Capabilities.PushNotifications {
			fmt.Println("agent does not support push notifications, continuing without")
			usePush = false
		} else {
			pushToken = uuid.NewString()
			if err := startPushListener(pushReceiver, pushToken); err != nil {
				return err
			}
		}
	}

	stdin := bufio.NewScanner(os.Stdin)
	var taskID, contextID string
	var attachment *types.Part

	for {
		if taskID == "" {
			fmt.Println("=========  starting a new task ======== ")
		}
		fmt.Print("\nWhat do you want to send to the agent? (:q or quit to exit, :attach <path> to attach a file)\n> ")
		if !stdin.Scan() {
			return nil
		}
		prompt := strings.TrimSpace(stdin.Text())
		if prompt == "" {
			continue
		}
		if prompt == ":q" || prompt == "quit" {
			return nil
		}
		if path, ok := strings.CutPrefix(prompt, ":attach "); ok {
			part, err := filePart(strings.TrimSpace(path))
			if err != nil {
				fmt.Println("attach failed:", err)
				continue
			}
			attachment = part
			fmt.Println("file attached to the next message:", part.File.Name)
			continue
		}

		params := buildParams(prompt, taskID, contextID, usePush, pushReceiver, pushToken)
		if attachment != nil {
			params.Message.Parts = append(params.Message.Parts, *attachment)
			attachment = nil
		}

		var task *types.Task
		if card.Capabilities.Streaming {
			task, err = streamTask(ctx, c, params)
		} else {
			task, err = c.SendMessage(ctx, params)
		}
		if err != nil {
			fmt.Println("request failed:", err)
			taskID, contextID = "", ""
			continue
		}
		if task == nil {
			continue
		}

		contextID = task.ContextID
		if task.Status.State == types.TaskStateInputRequired {
			// Follow-up input continues the same task.
			taskID = task.ID
			continue
		}
		taskID = ""

		if history {
			fmt.Println("========= history ======== ")
			full, err := c.GetTask(ctx, &types.TaskQueryParams{ID: task.ID, HistoryLength: 10})
			if err != nil {
				fmt.Println("history fetch failed:", err)
				continue
			}
			printJSON(full.History)
		}
	}
}

func buildParams(prompt, taskID, contextID string, usePush bool, pushReceiver, pushToken string) *types.MessageSendParams {
	message := &types.Message{
		Kind:      types.KindMessage,
		MessageID: uuid.NewString(),
		Role:      types.RoleUser,
		Parts:     []types.Part{types.TextPart(prompt)},
		TaskID:    taskID,
		ContextID: contextID,
	}
	params := &types.MessageSendParams{
		Message: message,
		Configuration: &types.MessageSendConfiguration{
			AcceptedOutputModes: []string{"text"},
		},
	}
	if usePush {
		params.Configuration.PushNotificationConfig = &types.PushNotificationConfig{
			URL:   strings.TrimSuffix(pushReceiver, "/") + "/notify",
			Token: pushToken,
		}
	}
	return params
}

// filePart reads a local file into an inline base64 file part.
func filePart(path string) (*types.Part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &types.Part{
		Kind: types.PartKindFile,
		File: &types.FileContent{
			Name:     filepath.Base(path),
			MimeType: mimeType,
			Bytes:    base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// streamTask consumes a message/stream response, printing every event, and
// returns the final task snapshot.
func streamTask(ctx context.Context, c *client.Client, params *types.MessageSendParams) (*types.Task, error) {
	events, err := c.StreamMessage(ctx, params)
	if err != nil {
		return nil, err
	}

	var taskID string
	for ev := range events {
		if ev.Err != nil {
			return nil, ev.Err
		}
		switch event := ev.Event.(type) {
		case *types.Task:
			taskID = event.ID
		case *types.TaskStatusUpdateEvent:
			taskID = event.TaskID
		case *types.TaskArtifactUpdateEvent:
			taskID = event.TaskID
		}
		raw, _ := json.Marshal(ev.Event)
		fmt.Printf("stream event => %s\n", raw)
	}

	if taskID == "" {
		return nil, nil
	}
	task, err := c.GetTask(ctx, &types.TaskQueryParams{ID: taskID})
	if err != nil {
		return nil, err
	}
	printJSON(task)
	return task, nil
}

func startPushListener(receiver, token string) error {
	u, err := url.Parse(receiver)
	if err != nil {
		return fmt.Errorf("invalid push receiver URL: %w", err)
	}

	listener := &client.PushListener{
		Token: token,
		OnTask: func(task *types.Task) {
			fmt.Printf("\npush notification => task %s is %s\n", task.ID, task.Status.State)
		},
	}
	mux := http.NewServeMux()
	mux.Handle("/notify", listener)

	go func() {
		if err := http.ListenAndServe(u.Host, mux); err != nil {
			fmt.Fprintln(os.Stderr, "push listener failed:", err)
		}
	}()
	fmt.Println("push listener on", u.Host)
	return nil
}

func printJSON(v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(raw))
}
