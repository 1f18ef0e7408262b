package astropix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestLivePoller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.log")
	first := fmt.Sprintf("0\tb'%s'\n", sampleReadouts[0])
	second := fmt.Sprintf("1\tb'%s'\n", sampleReadouts[2])
	appendFile(t, path, first+second[:20])

	stats := NewMonitorStats()
	poller := NewLivePoller(path, NewLogDecoder(AstroPix4), stats)
	hits, err := poller.PollOnce()
	require.NoError(t, err)
	assert.Equal(t, []string{sampleHit1, sampleHit2}, hitHex(hits))
	assert.Equal(t, int64(len(first)), poller.Offset())

	// nothing new, nothing decoded
	hits, err = poller.PollOnce()
	require.NoError(t, err)
	assert.Empty(t, hits)

	appendFile(t, path, second[20:]+fmt.Sprintf("2\tb'%s'\n", sampleReadouts[3]))
	hits, err = poller.PollOnce()
	require.NoError(t, err)
	assert.Equal(t, []string{sampleHit1, sampleHit1, sampleHit2}, hitHex(hits))
	assert.Equal(t, []int{2, 3, 3}, []int{hits[0].Line, hits[1].Line, hits[2].Line})
	assert.Equal(t, 5, stats.Hits())

	// a new run overwrites the file
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("0\tb'%s'\n", sampleReadouts[5])), 0644))
	hits, err = poller.PollOnce()
	require.NoError(t, err)
	assert.Equal(t, []string{sampleHit3}, hitHex(hits))
	assert.Equal(t, 6, stats.Hits())
}

func TestLivePollerRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.log")
	appendFile(t, path, fmt.Sprintf("0\tb'%s'\n", sampleReadouts[0]))

	poller := NewLivePoller(path, NewLogDecoder(AstroPix4), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	polls := 0
	err := poller.Run(ctx, func(hits []Hit) error {
		polls++
		assert.Len(t, hits, 2)
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, polls)

	_, err = NewLivePoller(filepath.Join(t.TempDir(), "none.log"), NewLogDecoder(AstroPix4), nil).PollOnce()
	var openErr *ErrOpenFile
	assert.ErrorAs(t, err, &openErr)
}
