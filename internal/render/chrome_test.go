package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><head><script>
setTimeout(function () {
  var a = document.createElement("a");
  a.className = "fc-timeline-event s-lc-eq-avail";
  a.title = "9:00am Tuesday, January 20, 2026 - Room 201 - Available";
  document.body.appendChild(a);
}, 50);
</script></head><body></body></html>`

func TestChromeRender(t *testing.T) {
	wsURL := os.Getenv("CHROME_WS_URL")
	if wsURL == "" && os.Getenv("ROOMWATCH_CHROME_TESTS") == "" {
		t.Skip("CHROME_WS_URL not set, skipping browser test")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	c := NewChrome(Options{RemoteURL: wsURL, Timeout: 20 * time.Second, Logger: zerolog.Nop()})
	defer c.Close()

	html, err := c.Render(context.Background(), srv.URL, ".fc-timeline-event")
	require.NoError(t, err)
	assert.Contains(t, html, "Room 201")

	_, err = c.Render(context.Background(), srv.URL, ".fc-timeline-event")
	require.NoError(t, err)
	assert.Equal(t, 1, c.starts, "renders share one browser")
}

func TestChromeFailedStartIsRetried(t *testing.T) {
	c := NewChrome(Options{RemoteURL: "ws://127.0.0.1:1/devtools/browser/none", Timeout: time.Second, Logger: zerolog.Nop()})
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := c.Render(context.Background(), "http://127.0.0.1:1/", "body")
		require.Error(t, err)
		assert.ErrorContains(t, err, "start browser")
	}
	assert.Equal(t, 0, c.starts)
	assert.Nil(t, c.browserCtx)
}

func TestChromeRenderHonoursCallerContext(t *testing.T) {
	c := NewChrome(Options{RemoteURL: "ws://127.0.0.1:1/devtools/browser/none", MaxTabs: 1, Logger: zerolog.Nop()})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Render(ctx, "http://127.0.0.1:1/", "body")
	assert.Error(t, err)
}
