package browser

import (
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectEventBuffersNetworkAndConsole(t *testing.T) {
	d := &Driver{}

	d.collectEvent(&network.EventRequestWillBeSent{
		Request: &network.Request{Method: "GET", URL: "https://example.com/api/items"},
	})
	d.collectEvent(&runtime.EventConsoleAPICalled{
		Type: runtime.APITypeError,
		Args: []*runtime.RemoteObject{{Value: []byte(`"panel is undefined"`)}},
	})
	d.collectEvent(&runtime.EventConsoleAPICalled{
		Type: runtime.APITypeLog,
		Args: []*runtime.RemoteObject{{Value: []byte(`"just noise"`)}},
	})

	assert.Equal(t, []string{"GET https://example.com/api/items"}, d.DrainNetworkRequests())
	assert.Empty(t, d.DrainNetworkRequests(), "drain clears the buffer")

	errs := d.DrainConsoleErrors()
	require.Len(t, errs, 1, "non-error console output is ignored")
	assert.Contains(t, errs[0], "panel is undefined")
	assert.Empty(t, d.DrainConsoleErrors())
}
