package deepgram

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/room4-2/senserelay/transcription"
)

// eventFrame is the outer shape of a listen event.
type eventFrame struct {
	Type    string          `json:"type"`
	IsFinal bool            `json:"is_final"`
	Channel json.RawMessage `json:"channel"`
}

// resultsChannel is the channel body of a Results event.
type resultsChannel struct {
	Alternatives []struct {
		Transcript string   `json:"transcript"`
		Confidence *float64 `json:"confidence"`
	} `json:"alternatives"`
}

// ParseEvent normalizes one listen event. Non-JSON frames return
// transcription.ErrMalformedPayload; events without a usable transcript return
// ok == false.
func ParseEvent(raw []byte) (transcription.Event, bool, error) {
	if !sonic.Valid(raw) {
		return transcription.Event{}, false, transcription.ErrMalformedPayload
	}

	var frame eventFrame
	if err := sonic.Unmarshal(raw, &frame); err != nil {
		return transcription.Event{}, false, fmt.Errorf("deepgram: decode event: %w", err)
	}
	// Metadata, SpeechStarted, UtteranceEnd and friends carry no transcript.
	if frame.Type != "" && frame.Type != "Results" {
		return transcription.Event{}, false, nil
	}
	if len(frame.Channel) == 0 {
		return transcription.Event{}, false, nil
	}

	var ch resultsChannel
	if err := sonic.Unmarshal(frame.Channel, &ch); err != nil {
		return transcription.Event{}, false, fmt.Errorf("deepgram: decode channel: %w", err)
	}
	if len(ch.Alternatives) == 0 {
		return transcription.Event{}, false, nil
	}

	alt := ch.Alternatives[0]
	ev := transcription.Event{
		Text:       alt.Transcript,
		IsFinal:    frame.IsFinal,
		Confidence: alt.Confidence,
	}
	if ev.Empty() {
		return transcription.Event{}, false, nil
	}
	return ev, true, nil
}
