package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
	"github.com/JakeFAU/listing-image-archiver/internal/urlnorm"
)

type fakeFetcher struct {
	mu       sync.Mutex
	bodies   map[string][]byte
	attempts []string
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, url)
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("404")
	}
	return body, nil
}

func TestFetchAllKeepsOriginalIndices(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{bodies: map[string][]byte{
		"https://img.market.test/a.jpg": []byte("a"),
		"https://img.market.test/c.jpg": []byte("c"),
		"https://img.market.test/d.jpg": []byte("d"),
	}}
	var outcomes sync.Map
	p := New(f, Config{Concurrency: 2}, nil).WithObserver(func(o string) {
		v, _ := outcomes.LoadOrStore(o, new(atomic.Int32))
		v.(*atomic.Int32).Add(1)
	})

	summary, err := p.FetchAll(context.Background(), []string{
		"https://img.market.test/a.jpg",
		"https://img.market.test/b.jpg",
		"https://img.market.test/c.jpg",
		"https://img.market.test/d.jpg",
	})
	require.NoError(t, err)
	require.Len(t, summary.Items, 3)
	assert.Equal(t, []int{1, 3, 4}, []int{summary.Items[0].Index, summary.Items[1].Index, summary.Items[2].Index})
	assert.Equal(t, []byte("c"), summary.Items[1].Data)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 2, summary.Failures[0].Index)
	require.Error(t, summary.Failures[0].Err)

	ok, _ := outcomes.Load(OutcomeOK)
	failed, _ := outcomes.Load(OutcomeFailed)
	assert.EqualValues(t, 3, ok.(*atomic.Int32).Load())
	assert.EqualValues(t, 1, failed.(*atomic.Int32).Load())
}

func TestFetchAllFallsBackToVariant(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{bodies: map[string][]byte{
		"https://img.market.test/photos//1.jpg": []byte("stripped"),
	}}
	p := New(f, Config{Rules: urlnorm.MustDefaultRules()}, nil)

	summary, err := p.FetchAll(context.Background(), []string{"https://img.market.test/photos/t/abc123/1.jpg:"})
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, "https://img.market.test/photos//1.jpg", summary.Items[0].URL)
	assert.Equal(t, []string{
		"https://img.market.test/photos/t/abc123/1.jpg",
		"https://img.market.test/photos//1.jpg",
	}, f.attempts)
}

func TestFetchAllNothingFetched(t *testing.T) {
	t.Parallel()

	p := New(&fakeFetcher{}, Config{}, nil)
	summary, err := p.FetchAll(context.Background(), []string{"https://img.market.test/x.jpg"})
	require.ErrorIs(t, err, listing.ErrNoItemsFetched)
	assert.Empty(t, summary.Items)
	assert.Len(t, summary.Failures, 1)
}

func TestFetchAllBoundsConcurrency(t *testing.T) {
	t.Parallel()

	bodies := map[string][]byte{}
	var urls []string
	for _, u := range []string{"1", "2", "3", "4", "5", "6"} {
		url := "https://img.market.test/" + u + ".jpg"
		bodies[url] = []byte(u)
		urls = append(urls, url)
	}
	f := &fakeFetcher{bodies: bodies, delay: 20 * time.Millisecond}

	summary, err := New(f, Config{Concurrency: 2}, nil).FetchAll(context.Background(), urls)
	require.NoError(t, err)
	assert.Len(t, summary.Items, 6)
	assert.LessOrEqual(t, f.maxSeen.Load(), int32(2))
}

func TestFetchAllCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFetcher{delay: time.Second}
	_, err := New(f, Config{}, nil).FetchAll(ctx, []string{"https://img.market.test/x.jpg"})
	require.ErrorIs(t, err, context.Canceled)
}

type recordingThrottle struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (r *recordingThrottle) Wait(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return r.err
}

func TestFetchAllWaitsOnThrottle(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{bodies: map[string][]byte{
		"https://img.market.test/photos//1.jpg": []byte("stripped"),
	}}
	throttle := &recordingThrottle{}
	p := New(f, Config{Rules: urlnorm.MustDefaultRules(), Throttle: throttle}, nil)

	_, err := p.FetchAll(context.Background(), []string{"https://img.market.test/photos/t/abc123/1.jpg"})
	require.NoError(t, err)
	assert.Equal(t, f.attempts, throttle.urls)
}

func TestFetchAllThrottleErrorSkipsFetch(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{bodies: map[string][]byte{"https://img.market.test/a.jpg": []byte("a")}}
	p := New(f, Config{Throttle: &recordingThrottle{err: context.DeadlineExceeded}}, nil)

	summary, err := p.FetchAll(context.Background(), []string{"https://img.market.test/a.jpg"})
	require.ErrorIs(t, err, listing.ErrNoItemsFetched)
	require.Len(t, summary.Failures, 1)
	require.ErrorIs(t, summary.Failures[0].Err, context.DeadlineExceeded)
	assert.Empty(t, f.attempts)
}
