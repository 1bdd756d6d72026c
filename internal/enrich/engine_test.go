package enrich

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"

	"github.com/propflow/skiptrace-cli/internal/model"
	"github.com/propflow/skiptrace-cli/internal/resilience"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   int
	contact *model.ContactData
	errs    []error // consumed in order before returning contact
}

func (c *fakeClient) Lookup(ctx context.Context, addr model.Address) (*model.ContactData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return c.contact, nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]model.EnrichmentEntry
	puts    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]model.EnrichmentEntry)}
}

func (c *memCache) GetEnrichment(ctx context.Context, fp string) (*model.EnrichmentEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fp]; ok {
		return &e, nil
	}
	return nil, nil
}

func (c *memCache) PutEnrichment(ctx context.Context, entry model.EnrichmentEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Fingerprint] = entry
	c.puts++
	return nil
}

const testFP = "12 OAK ST|PORTLAND|OR|97201"

var testAddr = model.Address{Street: "12 Oak St", City: "Portland", State: "OR", Zip: "97201"}

func testContact() *model.ContactData {
	return &model.ContactData{
		OwnerFullName: "Alice Oakley",
		Phones:        []model.Phone{{Number: "5035550101", Type: "Mobile"}},
	}
}

func TestResolve_PreferCacheHit_NoExternalCall(t *testing.T) {
	client := &fakeClient{contact: testContact()}
	cache := newMemCache()
	cache.entries[testFP] = model.EnrichmentEntry{
		Fingerprint: testFP,
		Contact:     *testContact(),
		FetchedAt:   time.Now().UTC().Add(-24 * time.Hour),
	}

	eng := NewEngine(client, cache)
	res, err := eng.Resolve(context.Background(), "batch-1", testFP, testAddr, model.RefreshPreferCache)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFromCache, res.Outcome)
	require.NotNil(t, res.Entry)
	assert.Equal(t, "Alice Oakley", res.Entry.Contact.OwnerFullName)
	assert.Equal(t, 0, client.callCount())
}

func TestResolve_PreferCacheMiss_FetchesAndCaches(t *testing.T) {
	client := &fakeClient{contact: testContact()}
	cache := newMemCache()

	eng := NewEngine(client, cache)
	res, err := eng.Resolve(context.Background(), "batch-1", testFP, testAddr, model.RefreshPreferCache)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, res.Outcome)
	assert.Equal(t, 1, client.callCount())

	stored, err := cache.GetEnrichment(context.Background(), testFP)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "batch-1", stored.SourceBatchID)
}

func TestResolve_ForceRefresh_OverwritesCache(t *testing.T) {
	client := &fakeClient{contact: testContact()}
	cache := newMemCache()
	cache.entries[testFP] = model.EnrichmentEntry{
		Fingerprint:   testFP,
		Contact:       model.ContactData{OwnerFullName: "Stale Owner"},
		FetchedAt:     time.Now().UTC().Add(-time.Hour),
		SourceBatchID: "batch-0",
	}

	eng := NewEngine(client, cache)
	res, err := eng.Resolve(context.Background(), "batch-1", testFP, testAddr, model.RefreshForce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, res.Outcome)
	assert.Equal(t, 1, client.callCount())

	stored, _ := cache.GetEnrichment(context.Background(), testFP)
	assert.Equal(t, "Alice Oakley", stored.Contact.OwnerFullName)
	assert.Equal(t, "batch-1", stored.SourceBatchID)
}

func TestResolve_NotFound_NotCached(t *testing.T) {
	client := &fakeClient{errs: []error{ErrNotFound}}
	cache := newMemCache()

	eng := NewEngine(client, cache)
	res, err := eng.Resolve(context.Background(), "batch-1", testFP, testAddr, model.RefreshPreferCache)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Nil(t, res.Entry)
	assert.Equal(t, 0, cache.puts)
}

func TestResolve_DuplicateFingerprintInRun_PaysOnce(t *testing.T) {
	client := &fakeClient{contact: testContact()}
	cache := newMemCache()

	// force_refresh still pays at most once per distinct fingerprint
	// within a run.
	eng := NewEngine(client, cache)
	ctx := context.Background()

	first, err := eng.Resolve(ctx, "batch-1", testFP, testAddr, model.RefreshForce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, first.Outcome)

	second, err := eng.Resolve(ctx, "batch-1", testFP, testAddr, model.RefreshForce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFromCache, second.Outcome)
	require.NotNil(t, second.Entry)
	assert.Equal(t, "Alice Oakley", second.Entry.Contact.OwnerFullName)
	assert.Equal(t, 1, client.callCount())
}

func TestResolve_ConcurrentSameFingerprint_SingleFetch(t *testing.T) {
	client := &fakeClient{contact: testContact()}
	cache := newMemCache()
	eng := NewEngine(client, cache)

	const workers = 16
	results := make([]Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = eng.Resolve(context.Background(), "batch-1", testFP, testAddr, model.RefreshPreferCache)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, client.callCount())
	fresh := 0
	for _, res := range results {
		require.NotNil(t, res.Entry)
		assert.Equal(t, "Alice Oakley", res.Entry.Contact.OwnerFullName)
		if res.Outcome == OutcomeFresh {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one resolver pays for the fetch")
}

// gatedClient holds lookups open until released, so the test can keep
// two resolves in flight at the same time.
type gatedClient struct {
	fakeClient
	started chan struct{}
	release chan struct{}
}

func (c *gatedClient) Lookup(ctx context.Context, addr model.Address) (*model.ContactData, error) {
	c.started <- struct{}{}
	<-c.release
	return c.fakeClient.Lookup(ctx, addr)
}

func TestResolve_ConcurrentEnginesSharedGroup_SingleFetch(t *testing.T) {
	client := &gatedClient{
		fakeClient: fakeClient{contact: testContact()},
		started:    make(chan struct{}, 2),
		release:    make(chan struct{}),
	}
	cache := newMemCache()

	// Two engines over one cache, as two concurrently processing
	// batches construct, sharing the process-wide flight group.
	var group singleflight.Group
	engA := NewEngine(client, cache, WithFlightGroup(&group))
	engB := NewEngine(client, cache, WithFlightGroup(&group))

	var wg sync.WaitGroup
	var resA, resB Result
	var errA, errB error

	wg.Add(1)
	go func() {
		defer wg.Done()
		resA, errA = engA.Resolve(context.Background(), "batch-a", testFP, testAddr, model.RefreshPreferCache)
	}()
	<-client.started // first fetch is in flight

	wg.Add(1)
	go func() {
		defer wg.Done()
		resB, errB = engB.Resolve(context.Background(), "batch-b", testFP, testAddr, model.RefreshPreferCache)
	}()
	time.Sleep(50 * time.Millisecond) // let the second resolve join the flight
	close(client.release)
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, 1, client.callCount(), "concurrent batches must coalesce to one fetch per fingerprint")
	require.NotNil(t, resA.Entry)
	require.NotNil(t, resB.Entry)
	assert.Equal(t, resA.Entry.Contact, resB.Entry.Contact)
}

func TestResolve_TransientErrorNotMemoized(t *testing.T) {
	client := &fakeClient{
		contact: testContact(),
		errs:    []error{resilience.NewTransientError(assert.AnError, 503)},
	}
	cache := newMemCache()
	eng := NewEngine(client, cache)
	ctx := context.Background()

	_, err := eng.Resolve(ctx, "batch-1", testFP, testAddr, model.RefreshPreferCache)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	// A later attempt (resume) retries the lookup.
	res, err := eng.Resolve(ctx, "batch-1", testFP, testAddr, model.RefreshPreferCache)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, res.Outcome)
	assert.Equal(t, 2, client.callCount())
}

func TestResolve_MaxAge_RefetchesStaleEntry(t *testing.T) {
	client := &fakeClient{contact: testContact()}
	cache := newMemCache()
	cache.entries[testFP] = model.EnrichmentEntry{
		Fingerprint: testFP,
		Contact:     model.ContactData{OwnerFullName: "Stale Owner"},
		FetchedAt:   time.Now().UTC().Add(-200 * 24 * time.Hour),
	}

	eng := NewEngine(client, cache, WithMaxAge(150*24*time.Hour))
	res, err := eng.Resolve(context.Background(), "batch-1", testFP, testAddr, model.RefreshPreferCache)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, res.Outcome)
	assert.Equal(t, 1, client.callCount())
}

func TestResolve_EmptyFingerprint(t *testing.T) {
	eng := NewEngine(&fakeClient{}, newMemCache())
	_, err := eng.Resolve(context.Background(), "batch-1", "", testAddr, model.RefreshPreferCache)
	require.Error(t, err)
}
