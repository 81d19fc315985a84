// Command callreplay drives a running videochat server with recorded or
// synthetic utterances and reports per-turn latency.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/videochat/internal/audio"
	"github.com/ent0n29/videochat/internal/protocol"
)

type options struct {
	baseURL     string
	sessionID   string
	transport   string
	wavPaths    []string
	turns       int
	chunkMS     int
	realtime    float64
	turnTimeout time.Duration
	verbose     bool
}

type clip struct {
	name       string
	pcm        []byte
	sampleRate int
}

type turnOutcome struct {
	latency time.Duration
	result  protocol.TurnResult
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "callreplay: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "callreplay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var (
		cfg      options
		wavs     string
		timeoutS int
	)
	fs := flag.NewFlagSet("callreplay", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8766", "videochat base URL")
	fs.StringVar(&cfg.sessionID, "session-id", "", "session key (empty lets the server mint one)")
	fs.StringVar(&cfg.transport, "transport", "ws", "ws streams PCM chunks, http posts whole clips")
	fs.StringVar(&wavs, "wav", "", "comma-separated PCM16 WAV files (default: a synthetic tone)")
	fs.IntVar(&cfg.turns, "turns", 5, "number of turns to replay")
	fs.IntVar(&cfg.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	fs.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime)")
	fs.IntVar(&timeoutS, "turn-timeout", 60, "seconds to wait for each turn result")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	switch {
	case cfg.baseURL == "":
		return options{}, fmt.Errorf("base-url is required")
	case cfg.transport != "ws" && cfg.transport != "http":
		return options{}, fmt.Errorf("transport must be ws or http")
	case cfg.turns <= 0:
		return options{}, fmt.Errorf("turns must be > 0")
	case cfg.chunkMS < 10 || cfg.chunkMS > 2000:
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	case cfg.realtime <= 0:
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	cfg.turnTimeout = time.Duration(max(timeoutS, 1)) * time.Second
	for _, p := range strings.Split(wavs, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.wavPaths = append(cfg.wavPaths, p)
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options, out io.Writer) error {
	clips, err := loadClips(cfg.wavPaths)
	if err != nil {
		return err
	}

	var outcomes []turnOutcome
	if cfg.transport == "http" {
		outcomes, err = replayHTTP(ctx, cfg, clips, out)
	} else {
		outcomes, err = replayWS(ctx, cfg, clips, out)
	}
	if err != nil {
		return err
	}
	printSummary(out, outcomes)
	return nil
}

func loadClips(paths []string) ([]clip, error) {
	if len(paths) == 0 {
		return []clip{{name: "tone", pcm: tone(16000, 440, 1200*time.Millisecond), sampleRate: 16000}}, nil
	}
	clips := make([]clip, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		pcm, rate, err := audio.DecodeWAVPCM16(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		clips = append(clips, clip{name: p, pcm: pcm, sampleRate: rate})
	}
	return clips, nil
}

// tone renders a sine wave as PCM16LE mono.
func tone(sampleRate int, hz float64, d time.Duration) []byte {
	n := int(float64(sampleRate) * d.Seconds())
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(3000 * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func replayHTTP(ctx context.Context, cfg options, clips []clip, out io.Writer) ([]turnOutcome, error) {
	client := &http.Client{Timeout: cfg.turnTimeout}
	sessionID := cfg.sessionID
	outcomes := make([]turnOutcome, 0, cfg.turns)
	defer func() {
		if sessionID != "" {
			_ = terminate(context.Background(), client, cfg.baseURL, sessionID)
		}
	}()

	for i := 0; i < cfg.turns; i++ {
		c := clips[i%len(clips)]
		wav, err := audio.EncodeWAVPCM16LE(c.pcm, c.sampleRate)
		if err != nil {
			return outcomes, err
		}
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		if sessionID != "" {
			_ = mw.WriteField("session_id", sessionID)
		}
		fw, err := mw.CreateFormFile("audio", "utterance.wav")
		if err != nil {
			return outcomes, err
		}
		_, _ = fw.Write(wav)
		if err := mw.Close(); err != nil {
			return outcomes, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/api/turn", &body)
		if err != nil {
			return outcomes, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		started := time.Now()
		res, err := client.Do(req)
		if err != nil {
			return outcomes, fmt.Errorf("turn %d: %w", i+1, err)
		}
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return outcomes, fmt.Errorf("turn %d: HTTP %d: %s", i+1, res.StatusCode, strings.TrimSpace(string(raw)))
		}
		var result protocol.TurnResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return outcomes, fmt.Errorf("turn %d: decode result: %w", i+1, err)
		}
		sessionID = result.SessionID
		o := turnOutcome{latency: time.Since(started), result: result}
		outcomes = append(outcomes, o)
		logTurn(out, cfg.verbose, i+1, c.name, o)
	}
	return outcomes, nil
}

func replayWS(ctx context.Context, cfg options, clips []clip, out io.Writer) ([]turnOutcome, error) {
	wsURL, err := wsURLForSession(cfg.baseURL, cfg.sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	results := make(chan protocol.TurnResult, 4)
	failures := make(chan error, 4)
	go readLoop(conn, results, failures, out, cfg.verbose)

	outcomes := make([]turnOutcome, 0, cfg.turns)
	seq := 0
	for i := 0; i < cfg.turns; i++ {
		c := clips[i%len(clips)]
		if err := sendClip(conn, c, cfg.chunkMS, cfg.realtime, &seq); err != nil {
			return outcomes, fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		started := time.Now()
		if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionFinalize}); err != nil {
			return outcomes, fmt.Errorf("turn %d finalize: %w", i+1, err)
		}

		timer := time.NewTimer(cfg.turnTimeout)
		select {
		case res := <-results:
			timer.Stop()
			o := turnOutcome{latency: time.Since(started), result: res}
			outcomes = append(outcomes, o)
			logTurn(out, cfg.verbose, i+1, c.name, o)
		case err := <-failures:
			timer.Stop()
			return outcomes, fmt.Errorf("turn %d: %w", i+1, err)
		case <-timer.C:
			return outcomes, fmt.Errorf("turn %d: no result after %s", i+1, cfg.turnTimeout)
		}
	}
	_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionTerminate})
	return outcomes, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/session/ws"
	if sessionID != "" {
		q := u.Query()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, results chan<- protocol.TurnResult, failures chan<- error, out io.Writer, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			failures <- err
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeTurnResult:
			var res protocol.TurnResult
			if err := json.Unmarshal(data, &res); err == nil {
				results <- res
			}
		case protocol.TypeErrorEvent:
			var ev protocol.ErrorEvent
			if err := json.Unmarshal(data, &ev); err == nil {
				if ev.Kind == "turn_in_progress" || ev.Retryable {
					if verbose {
						fmt.Fprintf(out, "  error_event kind=%s detail=%s\n", ev.Kind, ev.Detail)
					}
					continue
				}
				failures <- fmt.Errorf("error_event kind=%s: %s", ev.Kind, ev.Detail)
			}
		}
	}
}

func sendClip(conn *websocket.Conn, c clip, chunkMS int, realtime float64, seq *int) error {
	bytesPerChunk := c.sampleRate * 2 * chunkMS / 1000
	bytesPerChunk -= bytesPerChunk % 2
	if bytesPerChunk <= 0 {
		return fmt.Errorf("invalid chunk size for sample_rate=%d", c.sampleRate)
	}
	for off := 0; off < len(c.pcm); off += bytesPerChunk {
		end := min(off+bytesPerChunk, len(c.pcm))
		*seq++
		if err := conn.WriteJSON(protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			Seq:         *seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(c.pcm[off:end]),
			SampleRate:  c.sampleRate,
			TSMs:        time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
		pace := time.Duration(float64(time.Duration(end-off)*time.Second/time.Duration(c.sampleRate*2)) / realtime)
		time.Sleep(max(pace, time.Millisecond))
	}
	return nil
}

func terminate(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	body, _ := json.Marshal(map[string]string{"session_id": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/terminate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

func logTurn(out io.Writer, verbose bool, n int, name string, o turnOutcome) {
	if !verbose {
		return
	}
	r := o.result
	fmt.Fprintf(out, "turn %d (%s) %s in %dms transcript=%q reply=%q", n, name, r.Status, o.latency.Milliseconds(), r.Transcript, r.ReplyText)
	if r.ErrorKind != "" {
		fmt.Fprintf(out, " error_kind=%s", r.ErrorKind)
	}
	fmt.Fprintln(out)
}

func printSummary(out io.Writer, outcomes []turnOutcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(out, "no turns completed")
		return
	}
	ms := make([]float64, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		ms = append(ms, float64(o.latency.Milliseconds()))
		if o.result.Status != "ok" {
			failed++
		}
	}
	sort.Float64s(ms)
	fmt.Fprintf(out, "turns=%d failed=%d p50=%.0fms p95=%.0fms max=%.0fms\n",
		len(ms), failed, percentile(ms, 0.50), percentile(ms, 0.95), ms[len(ms)-1])
}

// percentile expects sorted input and uses nearest rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
