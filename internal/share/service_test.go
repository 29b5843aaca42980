package share

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abduss/ciphare/internal/cipher"
)

func TestStoreRetrieveHelloScenario(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()
	service := newTestService(t, meta, blobs)

	stored, err := service.Store(context.Background(), StoreInput{
		Payload:  []byte("hello"),
		FileName: "hello.txt",
		Password: "p@ss",
		TTL:      3600 * time.Second,
		MaxReads: 1,
	})
	if err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if stored.ID == "" {
		t.Fatalf("expected id in store result")
	}
	if stored.FileName != "hello.txt" {
		t.Fatalf("unexpected file name echoed: %s", stored.FileName)
	}
	if stored.MediaType != defaultMediaType {
		t.Fatalf("expected default media type, got %s", stored.MediaType)
	}

	got, err := service.Retrieve(context.Background(), stored.ID, "p@ss")
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if string(got.Payload) != "hello" {
		t.Fatalf("unexpected payload: %q", got.Payload)
	}
	if got.RemainingReads != 0 {
		t.Fatalf("expected remaining reads 0, got %d", got.RemainingReads)
	}

	if _, err := service.Retrieve(context.Background(), stored.ID, "p@ss"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second read, got %v", err)
	}
	if meta.count() != 0 || blobs.count() != 0 {
		t.Fatalf("expected share deleted after last read, meta=%d blobs=%d", meta.count(), blobs.count())
	}
}

func TestRetrieveHonorsReadBudget(t *testing.T) {
	service := newTestService(t, newFakeMeta(), newFakeBlobs())
	const budget = 4

	stored := mustStore(t, service, StoreInput{Payload: []byte("data"), Password: "pw", TTL: time.Hour, MaxReads: budget})

	for i := 1; i <= budget; i++ {
		got, err := service.Retrieve(context.Background(), stored.ID, "pw")
		if err != nil {
			t.Fatalf("read %d returned error: %v", i, err)
		}
		if got.RemainingReads != budget-i {
			t.Fatalf("read %d: expected remaining %d, got %d", i, budget-i, got.RemainingReads)
		}
	}

	if _, err := service.Retrieve(context.Background(), stored.ID, "pw"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after budget, got %v", err)
	}
}

func TestRetrieveConcurrentSingleRead(t *testing.T) {
	for round := 0; round < 20; round++ {
		service := newTestService(t, newFakeMeta(), newFakeBlobs())
		stored := mustStore(t, service, StoreInput{Payload: []byte("once"), Password: "pw", TTL: time.Hour, MaxReads: 1})

		var successes atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := service.Retrieve(context.Background(), stored.ID, "pw")
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, ErrNotFound):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if successes.Load() != 1 {
			t.Fatalf("round %d: expected exactly one success, got %d", round, successes.Load())
		}
	}
}

func TestRetrieveConcurrentBudgetUnderContention(t *testing.T) {
	service := newTestService(t, newFakeMeta(), newFakeBlobs())
	const budget, readers = 5, 40

	stored := mustStore(t, service, StoreInput{Payload: []byte("shared"), Password: "pw", TTL: time.Hour, MaxReads: budget})

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.Retrieve(context.Background(), stored.ID, "pw"); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != budget {
		t.Fatalf("expected %d successes, got %d", budget, successes.Load())
	}
}

func TestRetrieveAfterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	service := newTestService(t, newFakeMeta(), newFakeBlobs(), WithClock(clock.Now))

	stored := mustStore(t, service, StoreInput{Payload: []byte("tick"), Password: "pw", TTL: 2 * time.Minute, MaxReads: 10})

	clock.Advance(2*time.Minute - time.Nanosecond)
	if _, err := service.Retrieve(context.Background(), stored.ID, "pw"); err != nil {
		t.Fatalf("expected read before expiry, got %v", err)
	}

	clock.Advance(time.Nanosecond)
	if _, err := service.Retrieve(context.Background(), stored.ID, "pw"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound at expiry, got %v", err)
	}
}

func TestRetrieveUnlimitedNeverDecrements(t *testing.T) {
	meta := newFakeMeta()
	service := newTestService(t, meta, newFakeBlobs())

	stored := mustStore(t, service, StoreInput{Payload: []byte("forever"), Password: "pw", TTL: time.Hour, MaxReads: 0})

	for i := 0; i < 1000; i++ {
		got, err := service.Retrieve(context.Background(), stored.ID, "pw")
		if err != nil {
			t.Fatalf("read %d returned error: %v", i, err)
		}
		if got.RemainingReads != 0 {
			t.Fatalf("read %d: expected remaining 0, got %d", i, got.RemainingReads)
		}
	}
	if meta.decrements.Load() != 0 {
		t.Fatalf("expected no store decrements for unlimited share, got %d", meta.decrements.Load())
	}
}

func TestRetrieveWrongPasswordConsumesRead(t *testing.T) {
	service := newTestService(t, newFakeMeta(), newFakeBlobs())
	stored := mustStore(t, service, StoreInput{Payload: []byte("guarded"), Password: "right", TTL: time.Hour, MaxReads: 2})

	if _, err := service.Retrieve(context.Background(), stored.ID, "wrong"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}

	got, err := service.Retrieve(context.Background(), stored.ID, "right")
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if got.RemainingReads != 0 {
		t.Fatalf("expected failed attempt to spend a read, remaining %d", got.RemainingReads)
	}
}

func TestRetrieveWrongPasswordOnLastReadDeletes(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()
	service := newTestService(t, meta, blobs)
	stored := mustStore(t, service, StoreInput{Payload: []byte("guarded"), Password: "right", TTL: time.Hour, MaxReads: 1})

	if _, err := service.Retrieve(context.Background(), stored.ID, "wrong"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if meta.count() != 0 || blobs.count() != 0 {
		t.Fatalf("expected spent share deleted, meta=%d blobs=%d", meta.count(), blobs.count())
	}
}

func TestStoreCompensatesWhenMetadataFails(t *testing.T) {
	meta := newFakeMeta()
	meta.insertErr = errors.New("connection reset")
	blobs := newFakeBlobs()
	service := newTestService(t, meta, blobs)

	_, err := service.Store(context.Background(), StoreInput{Payload: []byte("x"), Password: "pw", TTL: time.Hour, MaxReads: 1})
	if !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("expected ErrStorageFailed, got %v", err)
	}
	if len(blobs.puts) != 1 {
		t.Fatalf("expected one blob put, got %d", len(blobs.puts))
	}
	if _, err := blobs.Get(context.Background(), blobs.puts[0]); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected compensated blob to be gone, got %v", err)
	}
}

func TestStoreCompensatesAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	meta := newFakeMeta()
	meta.beforeInsert = func() { cancel() }
	meta.insertErr = context.Canceled
	blobs := newFakeBlobs()
	service := newTestService(t, meta, blobs)

	_, err := service.Store(ctx, StoreInput{Payload: []byte("x"), Password: "pw", TTL: time.Hour, MaxReads: 1})
	if !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("expected ErrStorageFailed, got %v", err)
	}
	if blobs.count() != 0 {
		t.Fatalf("expected compensation despite cancelled caller, blobs=%d", blobs.count())
	}
}

func TestStoreReportsOrphanWhenCompensationFails(t *testing.T) {
	meta := newFakeMeta()
	meta.insertErr = errors.New("disk full")
	blobs := newFakeBlobs()
	blobs.deleteErr = errors.New("bucket unreachable")
	observer := &recordingObserver{}
	service := newTestService(t, meta, blobs, WithObserver(observer))

	if _, err := service.Store(context.Background(), StoreInput{Payload: []byte("x"), Password: "pw", TTL: time.Hour}); !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("expected ErrStorageFailed, got %v", err)
	}
	if observer.orphans != 1 {
		t.Fatalf("expected one orphan reported, got %d", observer.orphans)
	}
}

func TestStoreRetriesDuplicateID(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()

	ids := []string{"taken", "taken", "fresh"}
	var next int
	gen := func() (string, error) {
		id := ids[next]
		next++
		return id, nil
	}
	meta.records["taken"] = FileRecord{ID: "taken", BlobRef: "encrypted/other.bin", ExpiresAt: time.Now().Add(time.Hour)}
	blobs.objects["encrypted/other.bin"] = []byte("someone else's blob")

	service := newTestService(t, meta, blobs, WithIDGenerator(gen))
	stored := mustStore(t, service, StoreInput{Payload: []byte("mine"), Password: "pw", TTL: time.Hour, MaxReads: 1})

	if stored.ID != "fresh" {
		t.Fatalf("expected retried id, got %s", stored.ID)
	}
	if len(blobs.puts) != 1 {
		t.Fatalf("expected blob uploaded once, got %d", len(blobs.puts))
	}
	if !bytes.Equal(blobs.objects["encrypted/other.bin"], []byte("someone else's blob")) {
		t.Fatalf("colliding record's blob must be untouched")
	}
}

func TestStoreValidatesBeforeIO(t *testing.T) {
	cases := map[string]StoreInput{
		"empty payload":     {Payload: nil, Password: "pw", TTL: time.Hour},
		"empty password":    {Payload: []byte("x"), Password: "", TTL: time.Hour},
		"ttl too short":     {Payload: []byte("x"), Password: "pw", TTL: 59 * time.Second},
		"ttl too long":      {Payload: []byte("x"), Password: "pw", TTL: 91 * 24 * time.Hour},
		"negative reads":    {Payload: []byte("x"), Password: "pw", TTL: time.Hour, MaxReads: -1},
		"too many reads":    {Payload: []byte("x"), Password: "pw", TTL: time.Hour, MaxReads: 101},
		"oversize password": {Payload: []byte("x"), Password: string(make([]byte, 1025)), TTL: time.Hour},
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			meta := newFakeMeta()
			blobs := newFakeBlobs()
			service := newTestService(t, meta, blobs)

			if _, err := service.Store(context.Background(), input); !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("expected ErrValidationFailed, got %v", err)
			}
			if len(blobs.puts) != 0 || meta.inserts != 0 {
				t.Fatalf("expected no storage I/O, puts=%d inserts=%d", len(blobs.puts), meta.inserts)
			}
		})
	}
}

func TestStoreRejectsOversizePayload(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPayloadBytes = 8
	blobs := newFakeBlobs()
	service := newTestService(t, newFakeMeta(), blobs, WithLimits(limits))

	_, err := service.Store(context.Background(), StoreInput{Payload: []byte("123456789"), Password: "pw", TTL: time.Hour})
	if !errors.Is(err, ErrSizeExceeded) || !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrSizeExceeded wrapping ErrValidationFailed, got %v", err)
	}
	if len(blobs.puts) != 0 {
		t.Fatalf("expected no blob upload")
	}
}

func TestStoreNormalizesNames(t *testing.T) {
	service := newTestService(t, newFakeMeta(), newFakeBlobs())

	long := make([]rune, 300)
	for i := range long {
		long[i] = 'é'
	}
	stored := mustStore(t, service, StoreInput{Payload: []byte("x"), FileName: "  " + string(long) + " ", Password: "pw", TTL: time.Hour})

	if got := len([]rune(stored.FileName)); got != maxFileNameRunes {
		t.Fatalf("expected file name truncated to %d runes, got %d", maxFileNameRunes, got)
	}

	stored = mustStore(t, service, StoreInput{Payload: []byte("x"), FileName: "   ", Password: "pw", TTL: time.Hour})
	if stored.FileName != defaultFileName {
		t.Fatalf("expected default file name, got %q", stored.FileName)
	}
}

func TestRetrieveMissingBlobIsCorrupt(t *testing.T) {
	blobs := newFakeBlobs()
	service := newTestService(t, newFakeMeta(), blobs)
	stored := mustStore(t, service, StoreInput{Payload: []byte("x"), Password: "pw", TTL: time.Hour, MaxReads: 3})

	blobs.clear()

	_, err := service.Retrieve(context.Background(), stored.ID, "pw")
	if !errors.Is(err, ErrCorrupt) || !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("expected ErrCorrupt as storage failure, got %v", err)
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("missing blob must never look like a wrong password")
	}
}

func TestRetrieveTimeoutIsStorageFailure(t *testing.T) {
	meta := newFakeMeta()
	service := newTestService(t, meta, newFakeBlobs())
	stored := mustStore(t, service, StoreInput{Payload: []byte("x"), Password: "pw", TTL: time.Hour, MaxReads: 3})

	meta.getErr = context.DeadlineExceeded
	_, err := service.Retrieve(context.Background(), stored.ID, "pw")
	if !errors.Is(err, ErrStorageFailed) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrStorageFailed for timeout, got %v", err)
	}

	meta.getErr = nil
	meta.decrementErr = context.DeadlineExceeded
	_, err = service.Retrieve(context.Background(), stored.ID, "pw")
	if !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("expected ErrStorageFailed for decrement timeout, got %v", err)
	}
}

func TestRetrieveUnknownID(t *testing.T) {
	service := newTestService(t, newFakeMeta(), newFakeBlobs())

	for _, id := range []string{"", "does-not-exist"} {
		if _, err := service.Retrieve(context.Background(), id, "pw"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for %q, got %v", id, err)
		}
	}
}

// --- helpers & fakes ---

func newTestService(t *testing.T, meta MetadataStore, blobs BlobStore, opts ...Option) *Service {
	t.Helper()
	c, err := cipher.NewWithSuites(1, map[uint8]cipher.Suite{
		1: {Version: 1, Time: 1, MemoryKiB: 64, Threads: 1, KeyLen: 32, SaltLen: 16},
	})
	if err != nil {
		t.Fatalf("NewWithSuites: %v", err)
	}
	return NewService(meta, blobs, c, opts...)
}

func mustStore(t *testing.T, service *Service, input StoreInput) StoreResult {
	t.Helper()
	stored, err := service.Store(context.Background(), input)
	if err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	return stored
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeMeta struct {
	mu           sync.Mutex
	records      map[string]FileRecord
	inserts      int
	insertErr    error
	getErr       error
	decrementErr error
	beforeInsert func()
	decrements   atomic.Int32
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{records: make(map[string]FileRecord)}
}

func (f *fakeMeta) Insert(ctx context.Context, rec FileRecord) error {
	if f.beforeInsert != nil {
		f.beforeInsert()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.records[rec.ID]; ok {
		return ErrDuplicateID
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeMeta) Get(ctx context.Context, id string) (FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return FileRecord{}, f.getErr
	}
	rec, ok := f.records[id]
	if !ok {
		return FileRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

func (f *fakeMeta) ConditionalDecrement(ctx context.Context, id string, now time.Time) (Decrement, error) {
	f.decrements.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decrementErr != nil {
		return Decrement{}, f.decrementErr
	}
	rec, ok := f.records[id]
	if !ok {
		return Decrement{Outcome: OutcomeNotFound}, nil
	}
	if !now.Before(rec.ExpiresAt) || (rec.MaxReads > 0 && rec.RemainingReads <= 0) {
		return Decrement{Outcome: OutcomeExhausted}, nil
	}
	if rec.MaxReads > 0 {
		rec.RemainingReads--
	}
	rec.LastReadAt = &now
	f.records[id] = rec
	return Decrement{Outcome: OutcomeConsumed, Remaining: rec.RemainingReads}, nil
}

func (f *fakeMeta) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeMeta) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	puts      []string
	deleteErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(ctx context.Context, ref string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, ref)
	f.objects[ref] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobs) Get(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[ref]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeBlobs) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, ref)
	return nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeBlobs) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = make(map[string][]byte)
}

type recordingObserver struct {
	mu      sync.Mutex
	stored  int
	orphans int
}

func (o *recordingObserver) Stored(int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stored++
}

func (o *recordingObserver) Retrieved(string) {}
func (o *recordingObserver) Compensated(bool) {}

func (o *recordingObserver) Orphaned() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orphans++
}
