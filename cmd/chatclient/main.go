package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"skillswap-chat/internal/client"
	"skillswap-chat/internal/conversation"
	"skillswap-chat/internal/event"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"
	"skillswap-chat/pkg/utils"
)

const usage = `Usage: chatclient -user ID (-peer ID | -group ID) [-token T | -secret S]

Each non-empty line is sent as a message. Stdin is line-buffered, so an
empty line stands in for a keystroke and sends a typing indicator that
stops after a short pause or when the next message is sent.`

// 开发用的命令行客户端：每行输入发送一条消息，收到的事件打印到标准输出
func main() {
	server := flag.String("server", "http://localhost:8080", "Server base URL")
	token := flag.String("token", "", "Bearer token (generated from -user and -secret when empty)")
	user := flag.String("user", "", "Own user id")
	name := flag.String("name", "", "Display name embedded in a generated token")
	secret := flag.String("secret", "", "JWT secret used to generate a development token")
	peer := flag.String("peer", "", "Peer user id for a direct conversation")
	group := flag.String("group", "", "Group id for a group conversation")
	history := flag.Int("history", 20, "Number of history messages to load")
	verbose := flag.Bool("v", false, "Log at debug level")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *user == "" || (*peer == "") == (*group == "") {
		flag.Usage()
		os.Exit(2)
	}
	level := "warn"
	if *verbose {
		level = "debug"
	}
	if err := logger.InitLogger(level, false); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *token == "" {
		config.GlobalConfig.JWT.Secret = *secret
		config.GlobalConfig.JWT.Expiration = time.Hour
		t, err := utils.GenerateToken(*user, *name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
			os.Exit(1)
		}
		*token = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *server, *token, *user, *peer, *group, *history); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, server, token, user, peer, group string, historySize int) error {
	tl := client.NewTimeline(user)
	hist := client.History{BaseURL: server, Token: token}

	var (
		room string
		err  error
	)
	if peer != "" {
		room, err = conversation.Key(user, peer)
		if err != nil {
			return err
		}
		msgs, err := hist.Conversation(ctx, peer, historySize)
		if err != nil {
			return err
		}
		tl.Load(msgs)
	} else {
		room = group
		msgs, err := hist.Group(ctx, group, historySize)
		if err != nil {
			return err
		}
		tl.Load(msgs)
	}
	printTimeline(tl)

	wsURL := "ws" + strings.TrimPrefix(server, "http") + "/ws"
	conn, err := client.Dial(ctx, wsURL, token, user)
	if err != nil {
		return err
	}
	defer conn.Close()

	if peer != "" {
		err = conn.JoinConversation(peer)
	} else {
		err = conn.JoinGroup(group)
	}
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Run(ctx, tl, printEvent)
	}()

	typing := conn.TypingDebouncer(room, client.DefaultTypingDelay)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case err := <-done:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line, isKeystroke := parseInput(line)
			if isKeystroke {
				typing.Keystroke()
				continue
			}
			typing.Stop()
			if peer != "" {
				_, err = conn.SendDirect(tl, peer, line)
			} else {
				_, err = conn.SendGroup(tl, group, line)
			}
			if err != nil {
				return err
			}
			// 等待服务端回显后再打印
			time.Sleep(200 * time.Millisecond)
			printTimeline(tl)
		}
	}
}

// 终端按行缓冲，空行代替一次按键
func parseInput(line string) (string, bool) {
	line = strings.TrimSpace(line)
	return line, line == ""
}

func printTimeline(tl *client.Timeline) {
	for _, e := range tl.Messages() {
		sender := e.SenderName
		if sender == "" {
			sender = e.SenderID
		}
		suffix := ""
		if e.Status != client.StatusConfirmed {
			suffix = " [" + e.Status.String() + "]"
			if e.Error != "" {
				suffix += " " + e.Error
			}
		}
		fmt.Printf("%s %s: %s%s\n", e.CreatedAt.Local().Format("15:04:05"), sender, e.Content, suffix)
	}
}

func printEvent(env event.Envelope) {
	switch env.Event {
	case event.UserTyping:
		var p event.TypingPayload
		if env.Bind(&p) == nil {
			fmt.Printf("* %s is typing...\n", p.UserName)
		}
	case event.UserStoppedTyping:
		var p event.TypingPayload
		if env.Bind(&p) == nil {
			fmt.Printf("* %s stopped typing\n", p.UserID)
		}
	default:
		data, _ := json.Marshal(env.Data)
		fmt.Printf("< %s %s\n", env.Event, data)
	}
}
