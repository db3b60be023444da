// Package main provides the operator CLI for a running tunebox server.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
)

var (
	app    = kingpin.New("tunebox-ctl", "tunebox operator client")
	server = app.Flag("server", "Server address").Default("http://localhost:5000").String()

	// submit command
	submitCmd = app.Command("submit", "Submit a media URL to the queue")
	submitURL = submitCmd.Arg("url", "Media page URL").Required().String()

	// queue command
	queueCmd = app.Command("queue", "Show the current queue")

	// status command
	statusCmd = app.Command("status", "Show playback status")

	// control command
	controlCmd    = app.Command("control", "Send a playback control action")
	controlAction = controlCmd.Arg("action", "One of playpause, stop, skip").Required().Enum("playpause", "stop", "skip")

	// volume command
	volumeCmd   = app.Command("volume", "Set the player volume")
	volumeValue = volumeCmd.Arg("volume", "Volume in 0-100").Required().Float64()

	// autoplay command
	autoplayCmd = app.Command("autoplay", "Toggle autoplay")

	// debug command
	debugCmd = app.Command("debug", "Show the engine debug snapshot")

	// search command
	searchCmd   = app.Command("search", "Search the resolver for tracks")
	searchQuery = searchCmd.Arg("query", "Search text").Required().Strings()

	// events command
	eventsCmd = app.Command("events", "Tail the server's event feed")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	base := strings.TrimRight(*server, "/")

	// Execute command
	switch command {
	case submitCmd.FullCommand():
		submit(base, *submitURL)
	case queueCmd.FullCommand():
		showQueue(base)
	case statusCmd.FullCommand():
		showStatus(base)
	case controlCmd.FullCommand():
		control(base, *controlAction)
	case volumeCmd.FullCommand():
		setVolume(base, *volumeValue)
	case autoplayCmd.FullCommand():
		toggleAutoplay(base)
	case debugCmd.FullCommand():
		showDebug(base)
	case searchCmd.FullCommand():
		search(base, strings.Join(*searchQuery, " "))
	case eventsCmd.FullCommand():
		tailEvents(base)
	}
}

// queueItem mirrors the server's queue item JSON.
type queueItem struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Status  string `json:"status"`
	Details *struct {
		Title    string  `json:"title"`
		Duration float64 `json:"duration"`
	} `json:"details"`
}

type statusPayload struct {
	Paused   bool    `json:"paused"`
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
	Volume   float64 `json:"volume"`
	Current  *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"current"`
}

func submit(base, mediaURL string) {
	var resp struct {
		Item queueItem `json:"item"`
	}
	postForm(base+"/submit", url.Values{"url": {mediaURL}}, &resp)
	fmt.Printf("Queued %s (resolving in background)\n", resp.Item.ID)
}

func showQueue(base string) {
	var resp struct {
		Items []queueItem `json:"items"`
	}
	getJSON(base+"/queue", &resp)

	if len(resp.Items) == 0 {
		fmt.Println("Queue is empty.")
		return
	}

	for i, item := range resp.Items {
		title := item.URL
		duration := ""
		if item.Details != nil {
			title = item.Details.Title
			duration = fmt.Sprintf("  [%s]", formatSeconds(item.Details.Duration))
		}
		fmt.Printf("%2d. %s  %-7s  %s%s\n", i+1, item.ID, item.Status, title, duration)
	}
}

func showStatus(base string) {
	var status statusPayload
	getJSON(base+"/status", &status)

	if status.Current == nil {
		fmt.Println("⏹  Idle (nothing playing)")
	} else {
		marker := "▶️ "
		if status.Paused {
			marker = "⏸ "
		}
		fmt.Printf("%s %s (%s)\n", marker, status.Current.Title, status.Current.ID)
		fmt.Printf("   %s / %s\n", formatSeconds(status.Time), formatSeconds(status.Duration))
	}
	fmt.Printf("   Volume: %.0f%%\n", status.Volume)
}

func control(base, action string) {
	postForm(base+"/control", url.Values{"action": {action}}, nil)
	fmt.Printf("Sent %s\n", action)
}

func setVolume(base string, volume float64) {
	postForm(base+"/volume", url.Values{"volume": {strconv.FormatFloat(volume, 'f', -1, 64)}}, nil)
	fmt.Printf("Volume set to %.0f\n", volume)
}

func toggleAutoplay(base string) {
	var resp struct {
		Enabled bool `json:"enabled"`
	}
	postJSON(base+"/toggle-autoplay", nil, &resp)
	if resp.Enabled {
		fmt.Println("Autoplay is now ON")
	} else {
		fmt.Println("Autoplay is now OFF")
	}
}

func showDebug(base string) {
	var debug any
	getJSON(base+"/debug-queue", &debug)

	pretty, err := json.MarshalIndent(debug, "", "  ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(pretty))
}

func search(base, query string) {
	var resp struct {
		Results []struct {
			Title    string  `json:"title"`
			Uploader string  `json:"uploader"`
			URL      string  `json:"url"`
			Duration float64 `json:"duration"`
		} `json:"results"`
	}
	postJSON(base+"/search", map[string]string{"query": query}, &resp)

	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, r := range resp.Results {
		fmt.Printf("%2d. %s - %s  [%s]\n    %s\n", i+1, r.Title, r.Uploader, formatSeconds(r.Duration), r.URL)
	}
}

func tailEvents(base string) {
	resp, err := http.Get(base + "/events")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Error: server answered %s\n", resp.Status)
		os.Exit(1)
	}

	fmt.Println("Tailing events. Press Ctrl+C to exit.")

	// Handle shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nClosing...")
		os.Exit(0)
	}()

	var id, event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if id != "" {
				fmt.Printf("[%s] %s %s\n", id, event, data)
			} else {
				fmt.Printf("[-] %s %s\n", event, data)
			}
		case line == "":
			id, event = "", ""
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func formatSeconds(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// getJSON fetches a URL and decodes the JSON body into out.
func getJSON(rawURL string, out any) {
	resp, err := http.Get(rawURL)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	decodeResponse(resp, out)
}

// postForm sends a form POST and decodes the JSON body into out when
// out is non-nil.
func postForm(rawURL string, form url.Values, out any) {
	resp, err := http.PostForm(rawURL, form)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	decodeResponse(resp, out)
}

// postJSON sends a JSON POST and decodes the JSON body into out when
// out is non-nil.
func postJSON(rawURL string, payload, out any) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		body = strings.NewReader(string(data))
	}

	resp, err := http.Post(rawURL, "application/json", body)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) {
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Printf("Error [%s]: %s\n", resp.Status, strings.TrimSpace(string(msg)))
		os.Exit(1)
	}
	if out == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		os.Exit(1)
	}
}
