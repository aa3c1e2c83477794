// Command watch follows the live comment list of a post and prints every
// snapshot the server pushes. Typing a comment id on stdin toggles its like.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"classroom/internal/server"

	"github.com/gorilla/websocket"
)

func main() {
	host := flag.String("host", "localhost:8080", "API server host")
	postID := flag.String("post", "", "Post to watch")
	token := flag.String("token", "", "Bearer token (signed from -user and -secret when empty)")
	user := flag.String("user", "", "User id to sign a token for")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	useTicket := flag.Bool("ticket", true, "Exchange the token for a single-use WebSocket ticket")
	flag.Parse()

	if *postID == "" {
		log.Fatal("❌ -post is required")
	}
	if *token == "" {
		if *user == "" || *secret == "" {
			log.Fatal("❌ pass -token, or -user with -secret")
		}
		signed, err := server.SignToken(*secret, *user, time.Hour)
		if err != nil {
			log.Fatalf("❌ Signing token failed: %v", err)
		}
		*token = signed
	}

	u := url.URL{Scheme: "ws", Host: *host, Path: "/api/ws/posts/" + *postID + "/comments"}
	header := http.Header{}
	if *useTicket {
		ticket, err := getTicket(*host, *token)
		if err != nil {
			log.Fatalf("❌ Ticket issuance failed: %v", err)
		}
		u.RawQuery = "ticket=" + url.QueryEscape(ticket)
	} else {
		header.Set("Authorization", "Bearer "+*token)
	}

	c, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatalf("❌ Dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()
	log.Printf("✅ Watching post %s on %s", *postID, *host)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame server.StreamFrame
			if err := c.ReadJSON(&frame); err != nil {
				log.Printf("connection closed: %v", err)
				return
			}
			printFrame(frame)
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			id := strings.TrimSpace(scanner.Text())
			if id == "" {
				continue
			}
			cmd := server.StreamCommand{Type: server.FrameToggleLike, CommentID: id}
			if err := c.WriteJSON(cmd); err != nil {
				log.Printf("write error: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

func getTicket(host, token string) (string, error) {
	ticketURL := fmt.Sprintf("http://%s/api/ws/ticket", host)
	req, err := http.NewRequest(http.MethodPost, ticketURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

func printFrame(frame server.StreamFrame) {
	switch frame.Type {
	case server.FrameSnapshot:
		if !frame.Exists {
			fmt.Println("── post not found ──")
			return
		}
		liked := make(map[string]bool, len(frame.Liked))
		for _, id := range frame.Liked {
			liked[id] = true
		}
		fmt.Printf("── %d comments ──\n", len(frame.Comments))
		for _, c := range frame.Comments {
			heart := " "
			if liked[c.ID] {
				heart = "♥"
			}
			fmt.Printf("%s [%s] %s: %s (%d likes, %d replies)\n",
				heart, c.ID, c.Author.DisplayName, c.Text, len(c.Likes), len(c.Replies))
		}
	case server.FrameLikeState:
		if frame.Error != "" {
			fmt.Printf("like %s: %s (%s)\n", frame.CommentID, frame.State, frame.Error)
			return
		}
		fmt.Printf("like %s: %s\n", frame.CommentID, frame.State)
	case server.FrameError:
		fmt.Printf("error: %s\n", frame.Error)
	}
}
