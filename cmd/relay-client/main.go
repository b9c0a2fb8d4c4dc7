// Command relay-client exercises a running relay: it streams an audio file in
// real-time sized chunks, or sends one JPEG frame, and prints every envelope
// the server returns.
package main

import (
	"encoding/base64"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/senserelay/messages"
)

// serverEnvelope mirrors the fields of messages.Envelope the client prints.
type serverEnvelope struct {
	Type       string   `json:"type"`
	Data       any      `json:"data"`
	Transcript string   `json:"transcript"`
	IsFinal    bool     `json:"isFinal"`
	Confidence *float64 `json:"confidence"`
	Code       string   `json:"code"`
	RequestID  string   `json:"requestId"`
	Timestamp  int64    `json:"timestamp"`
}

func main() {
	serverURL := flag.String("server", "ws://localhost:3000/ws", "relay URL (use ws://localhost:8081/ for the proxy listener)")
	mode := flag.String("mode", "multiplexed", "framing: multiplexed (JSON envelopes) or proxy (raw binary)")
	audioFile := flag.String("file", "", "audio file to stream (PCM or WAV)")
	imageFile := flag.String("image", "", "JPEG file to send as one video frame")
	mimeType := flag.String("mime", "audio/wav", "audio MIME type hint for multiplexed mode")
	chunkSize := flag.Int("chunk", 3200, "audio chunk size in bytes (3200 is 100ms at 16kHz)")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between audio chunks")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for responses after sending")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *audioFile == "" && *imageFile == "" {
		log.Fatal("nothing to send: pass -file and/or -image")
	}

	log.Infof("Connecting to %s...", *serverURL)
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Info("Connected")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go readLoop(conn, log, done)

	if *imageFile != "" {
		if err := sendImage(conn, *imageFile); err != nil {
			log.Fatalf("Failed to send image: %v", err)
		}
		log.Infof("Sent video frame %s", *imageFile)
	}

	if *audioFile != "" {
		audioData, err := loadAudioFile(*audioFile, log)
		if err != nil {
			log.Fatalf("Failed to load audio: %v", err)
		}
		streamAudio(conn, log, audioData, *mode, *mimeType, *chunkSize, *interval)
		log.Info("Audio sent, waiting for responses...")
	}

	select {
	case <-done:
		log.Info("Connection closed")
	case <-interrupt:
		log.Info("Interrupted, closing...")
	case <-time.After(*wait):
		log.Info("Done waiting")
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func readLoop(conn *websocket.Conn, log *logrus.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("read error")
			}
			return
		}

		var env serverEnvelope
		if err := sonic.Unmarshal(raw, &env); err != nil {
			// Proxy mode passes provider frames through unchanged.
			log.Infof("raw: %s", raw)
			continue
		}

		entry := log.WithField("ts", env.Timestamp)
		if env.RequestID != "" {
			entry = entry.WithField("requestId", env.RequestID)
		}
		switch env.Type {
		case messages.TypeTranscription:
			if env.Confidence != nil {
				entry = entry.WithField("confidence", *env.Confidence)
			}
			entry.WithField("final", env.IsFinal).Infof("transcript: %s", env.Transcript)
		case messages.TypeVideoAnalysis:
			pretty, _ := sonic.ConfigStd.MarshalIndent(env.Data, "", "  ")
			entry.Infof("video analysis:\n%s", pretty)
		case messages.TypeError:
			entry.WithField("code", env.Code).Errorf("error: %v", env.Data)
		default:
			entry.Infof("%s", raw)
		}
	}
}

func sendImage(conn *websocket.Conn, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	msg, err := sonic.Marshal(messages.ClientMessage{
		Type: messages.TypeVideoFrame,
		Data: base64.StdEncoding.EncodeToString(data),
		ID:   "frame-1",
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// streamAudio sends audioData in chunks, simulating real-time capture.
func streamAudio(conn *websocket.Conn, log *logrus.Logger, audioData []byte, mode, mimeType string, chunkSize int, interval time.Duration) {
	total := (len(audioData) + chunkSize - 1) / chunkSize
	for i := 0; i < len(audioData); i += chunkSize {
		end := min(i+chunkSize, len(audioData))
		chunk := audioData[i:end]

		var err error
		if mode == "proxy" {
			err = conn.WriteMessage(websocket.BinaryMessage, chunk)
		} else {
			var msg []byte
			msg, err = sonic.Marshal(messages.ClientMessage{
				Type:     messages.TypeAudioChunk,
				Data:     base64.StdEncoding.EncodeToString(chunk),
				MimeType: mimeType,
			})
			if err == nil {
				err = conn.WriteMessage(websocket.TextMessage, msg)
			}
		}
		if err != nil {
			log.WithError(err).Error("send error")
			return
		}

		log.Debugf("Sent chunk %d/%d (%d bytes)", i/chunkSize+1, total, len(chunk))
		time.Sleep(interval)
	}
}

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string, log *logrus.Logger) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Check if it's a WAV file (starts with "RIFF")
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		// Skip WAV header (44 bytes for standard WAV)
		log.Info("Detected WAV file, skipping header")
		return data[44:], nil
	}

	log.Info("Detected raw PCM file")
	return data, nil
}
