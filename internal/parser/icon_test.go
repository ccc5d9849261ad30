package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIconParser(t *testing.T) {
	t.Parallel()

	const baseURL = "https://www.spigotmc.org/"

	t.Run("inlines custom icons", func(t *testing.T) {
		t.Parallel()
		downloader := &stubDownloader{bodies: map[string]string{
			baseURL + "data/resource_icons/12/12345.jpg?1466598083": "icon-bytes",
		}}
		parser := NewIconParser(downloader, baseURL, true)

		icon, err := parser.ExtractIcon(context.Background(), selection(t, `<a class="resourceIcon"><img src="data/resource_icons/12/12345.jpg?1466598083"></a>`))

		require.NoError(t, err)
		assert.Equal(t, "data/resource_icons/12/12345.jpg?1466598083", icon.URL)
		assert.Equal(t, "aWNvbi1ieXRlcw==", icon.Data)
	})

	t.Run("keeps only the url when inlining is off", func(t *testing.T) {
		t.Parallel()
		downloader := &stubDownloader{}
		parser := NewIconParser(downloader, baseURL, false)

		icon, err := parser.ExtractIcon(context.Background(), selection(t, `<img src="data/avatars/s/0/1.jpg">`))

		require.NoError(t, err)
		assert.Equal(t, "data/avatars/s/0/1.jpg", icon.URL)
		assert.Empty(t, icon.Data)
		assert.Empty(t, downloader.requested)
	})

	t.Run("skips placeholder icons", func(t *testing.T) {
		t.Parallel()
		downloader := &stubDownloader{}
		parser := NewIconParser(downloader, baseURL, true)

		icon, err := parser.ExtractIcon(context.Background(), selection(t, `<img src="styles/spigot/xenresource/resource_icon.png">`))

		require.NoError(t, err)
		assert.Empty(t, icon.Data)
		assert.Empty(t, downloader.requested)
	})

	t.Run("nil downloader disables inlining", func(t *testing.T) {
		t.Parallel()
		parser := NewIconParser(nil, baseURL, true)

		icon, err := parser.ExtractIcon(context.Background(), selection(t, `<img src="data/x.png">`))

		require.NoError(t, err)
		assert.Equal(t, "data/x.png", icon.URL)
	})

	t.Run("missing img is structural", func(t *testing.T) {
		t.Parallel()
		parser := NewIconParser(nil, baseURL, false)

		_, err := parser.ExtractIcon(context.Background(), selection(t, `<a class="avatar"></a>`))

		assert.ErrorIs(t, err, ErrMissingNode)
		assert.Equal(t, "structural", FaultLabel(err))
	})

	t.Run("download failure propagates", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("timeout")
		parser := NewIconParser(&stubDownloader{err: cause}, baseURL, true)

		_, err := parser.ExtractIcon(context.Background(), selection(t, `<img src="data/x.png">`))

		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "io", FaultLabel(err))
	})
}
