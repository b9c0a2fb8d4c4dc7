package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/room4-2/senserelay/transcription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresKey(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestListenURL(t *testing.T) {
	c, err := New("key", WithModel("base"), WithLanguage("de"), WithInterimResults(false))
	require.NoError(t, err)

	raw, err := c.listenURL()
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "api.deepgram.com", u.Host)
	assert.Equal(t, "/v1/listen", u.Path)
	q := u.Query()
	assert.Equal(t, "base", q.Get("model"))
	assert.Equal(t, "de", q.Get("language"))
	assert.Equal(t, "true", q.Get("punctuate"))
	assert.Equal(t, "true", q.Get("smart_format"))
	assert.Equal(t, "false", q.Get("interim_results"))
}

func TestParseEvent(t *testing.T) {
	t.Run("final transcript", func(t *testing.T) {
		ev, ok, err := ParseEvent([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.93}]}}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "hello there", ev.Text)
		assert.True(t, ev.IsFinal)
		require.NotNil(t, ev.Confidence)
		assert.InDelta(t, 0.93, *ev.Confidence, 1e-9)
	})

	t.Run("interim without type field", func(t *testing.T) {
		ev, ok, err := ParseEvent([]byte(`{"is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, ev.IsFinal)
		assert.Nil(t, ev.Confidence)
	})

	t.Run("empty transcript is silent", func(t *testing.T) {
		for _, raw := range []string{
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"   "}]}}`,
			`{"type":"Results","channel":{"alternatives":[]}}`,
			`{"type":"Metadata","request_id":"x"}`,
			`{"type":"UtteranceEnd","channel":[0,1]}`,
			`{}`,
		} {
			_, ok, err := ParseEvent([]byte(raw))
			require.NoError(t, err, raw)
			assert.False(t, ok, raw)
		}
	})

	t.Run("non-JSON is malformed", func(t *testing.T) {
		_, _, err := ParseEvent([]byte("not json at all"))
		require.ErrorIs(t, err, transcription.ErrMalformedPayload)
	})

	t.Run("wrong shape is a parse error", func(t *testing.T) {
		_, _, err := ParseEvent([]byte(`{"type":"Results","channel":{"alternatives":"nope"}}`))
		require.Error(t, err)
		assert.NotErrorIs(t, err, transcription.ErrMalformedPayload)
	})
}

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// newListenServer starts a fake listen endpoint that records inbound frames and
// sends the given events after accepting.
func newListenServer(t *testing.T, events []string) (*httptest.Server, <-chan *http.Request, <-chan frame) {
	t.Helper()
	reqs := make(chan *http.Request, 1)
	frames := make(chan frame, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for _, ev := range events {
			if err := conn.Write(ctx, websocket.MessageText, []byte(ev)); err != nil {
				return
			}
		}
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			frames <- frame{typ: typ, data: data}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, reqs, frames
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestStream_RoundTrip(t *testing.T) {
	event := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hi"}]}}`
	srv, reqs, frames := newListenServer(t, []string{event})

	c, err := New("secret", WithEndpoint(wsURL(srv.URL)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Dial(ctx)
	require.NoError(t, err)

	r := <-reqs
	assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
	assert.Equal(t, "nova-3", r.URL.Query().Get("model"))

	got, err := stream.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, event, string(got))

	require.NoError(t, stream.SendAudio(ctx, []byte{1, 2, 3}))
	require.NoError(t, stream.KeepAlive(ctx))
	require.NoError(t, stream.SendControl(ctx, []byte(`{"type":"Finalize"}`)))

	f := <-frames
	assert.Equal(t, websocket.MessageBinary, f.typ)
	assert.Equal(t, []byte{1, 2, 3}, f.data)

	f = <-frames
	assert.Equal(t, websocket.MessageText, f.typ)
	assert.JSONEq(t, `{"type":"KeepAlive"}`, string(f.data))

	f = <-frames
	assert.JSONEq(t, `{"type":"Finalize"}`, string(f.data))

	require.NoError(t, stream.Close())
	f = <-frames
	assert.JSONEq(t, `{"type":"CloseStream"}`, string(f.data))

	// idempotent
	require.NoError(t, stream.Close())
}

func TestDial_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New("bad", WithEndpoint(wsURL(srv.URL)))
	require.NoError(t, err)

	_, err = c.Dial(context.Background())
	require.Error(t, err)
}

func TestAnalyzeText(t *testing.T) {
	var gotQuery url.Values
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":{"summary":{"text":"short"}}}`))
	}))
	defer srv.Close()

	c, err := New("secret", WithReadEndpoint(srv.URL+"/v1/read"))
	require.NoError(t, err)

	out, err := c.AnalyzeText(context.Background(), "I love this product")
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":{"summary":{"text":"short"}}}`, string(out))

	assert.Equal(t, "Token secret", gotAuth)
	assert.JSONEq(t, `{"text":"I love this product"}`, gotBody)
	for _, k := range []string{"summarize", "sentiment", "topics", "intents"} {
		assert.Equal(t, "true", gotQuery.Get(k), k)
	}
	assert.Equal(t, "en", gotQuery.Get("language"))
}

func TestAnalyzeText_CustomHTTPClient(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":{}}`))
	}))
	defer srv.Close()

	// The default client does not trust the test certificate.
	c, err := New("secret", WithReadEndpoint(srv.URL+"/v1/read"))
	require.NoError(t, err)
	_, err = c.AnalyzeText(context.Background(), "text")
	require.Error(t, err)

	c, err = New("secret", WithReadEndpoint(srv.URL+"/v1/read"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	out, err := c.AnalyzeText(context.Background(), "text")
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":{}}`, string(out))
}

func TestAnalyzeText_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_code":"INVALID_AUTH"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New("secret", WithReadEndpoint(srv.URL))
	require.NoError(t, err)

	_, err = c.AnalyzeText(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
