package archive_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-gateway-fleet/pkg/archive"
	"github.com/illmade-knight/go-gateway-fleet/pkg/ingest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fake GCS client capturing written objects in memory ---

type fakeGCSWriter struct {
	bytes.Buffer
	store *fakeGCSClient
	name  string
}

func (w *fakeGCSWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.objects[w.name] = append([]byte(nil), w.Bytes()...)
	return nil
}

type fakeGCSObject struct {
	store *fakeGCSClient
	name  string
}

func (o *fakeGCSObject) NewWriter(_ context.Context) archive.GCSWriter {
	return &fakeGCSWriter{store: o.store, name: o.name}
}

type fakeGCSBucket struct {
	store *fakeGCSClient
}

func (b *fakeGCSBucket) Object(name string) archive.GCSObjectHandle {
	return &fakeGCSObject{store: b.store, name: name}
}

type fakeGCSClient struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func newFakeGCSClient() *fakeGCSClient {
	return &fakeGCSClient{objects: make(map[string][]byte)}
}

func (c *fakeGCSClient) Bucket(name string) archive.GCSBucketHandle {
	c.mu.Lock()
	c.bucket = name
	c.mu.Unlock()
	return &fakeGCSBucket{store: c}
}

func (c *fakeGCSClient) objectNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.objects))
	for name := range c.objects {
		names = append(names, name)
	}
	return names
}

func decodeObject(t *testing.T, data []byte) []archive.RawRecord {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	var records []archive.RawRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var rec archive.RawRecord
		require.NoError(t, dec.Decode(&rec))
		records = append(records, rec)
	}
	return records
}

// --- Test Cases ---

func TestGCSUploader_WriteBatch(t *testing.T) {
	client := newFakeGCSClient()
	uploader, err := archive.NewGCSUploader(client, archive.GCSUploaderConfig{
		BucketName:   "fleet-raw",
		ObjectPrefix: "telemetry",
	}, zerolog.Nop())
	require.NoError(t, err)

	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	records := []*archive.RawRecord{
		archive.NewRawRecord(ingest.Message{ID: "m1", Topic: "devices/gw-1/heartbeat", Payload: []byte(`{"uptime": 10}`), PublishTime: day}),
		archive.NewRawRecord(ingest.Message{ID: "m2", Topic: "devices/gw-2/heartbeat", Payload: []byte(`{"uptime": 20}`), PublishTime: day.Add(time.Hour)}),
	}

	require.NoError(t, uploader.WriteBatch(context.Background(), records))
	require.NoError(t, uploader.Close())

	names := client.objectNames()
	require.Len(t, names, 1, "same-day records should share one object")
	assert.True(t, strings.HasPrefix(names[0], "telemetry/2025/03/14/"))
	assert.True(t, strings.HasSuffix(names[0], ".jsonl.gz"))
	assert.Equal(t, "fleet-raw", client.bucket)

	decoded := decodeObject(t, client.objects[names[0]])
	require.Len(t, decoded, 2)
	assert.Equal(t, "m1", decoded[0].ID)
	assert.Equal(t, "devices/gw-1/heartbeat", decoded[0].Topic)
	assert.JSONEq(t, `{"uptime": 10}`, string(decoded[0].Payload))
}

func TestGCSUploader_GroupsByDay(t *testing.T) {
	client := newFakeGCSClient()
	uploader, err := archive.NewGCSUploader(client, archive.GCSUploaderConfig{BucketName: "fleet-raw"}, zerolog.Nop())
	require.NoError(t, err)

	records := []*archive.RawRecord{
		archive.NewRawRecord(ingest.Message{ID: "m1", Topic: "a", Payload: []byte(`{}`), PublishTime: time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)}),
		archive.NewRawRecord(ingest.Message{ID: "m2", Topic: "b", Payload: []byte(`{}`), PublishTime: time.Date(2025, 3, 15, 1, 0, 0, 0, time.UTC)}),
	}

	require.NoError(t, uploader.WriteBatch(context.Background(), records))
	require.NoError(t, uploader.Close())

	names := client.objectNames()
	require.Len(t, names, 2, "records from different days should land in separate objects")
}

func TestNewRawRecord_WrapsNonJSONPayload(t *testing.T) {
	rec := archive.NewRawRecord(ingest.Message{ID: "m1", Topic: "t", Payload: []byte("plain text")})
	assert.Equal(t, `"plain text"`, string(rec.Payload))
}

func TestNewGCSUploader_Validation(t *testing.T) {
	_, err := archive.NewGCSUploader(nil, archive.GCSUploaderConfig{BucketName: "b"}, zerolog.Nop())
	require.Error(t, err)

	_, err = archive.NewGCSUploader(newFakeGCSClient(), archive.GCSUploaderConfig{}, zerolog.Nop())
	require.ErrorContains(t, err, "bucket name is required")
}

func TestRawArchiver_ArchivesObservedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := newFakeGCSClient()
	uploader, err := archive.NewGCSUploader(client, archive.GCSUploaderConfig{BucketName: "fleet-raw"}, zerolog.Nop())
	require.NoError(t, err)

	archiver := archive.NewRawArchiver(uploader, archive.BatcherConfig{
		BatchSize:     10,
		FlushInterval: 20 * time.Millisecond,
	}, zerolog.Nop())
	archiver.Start(ctx)

	archiver.Observe(ingest.Message{ID: "m1", Topic: "devices/gw-1/status", Payload: []byte(`{"ok": true}`)})

	require.Eventually(t, func() bool {
		return len(client.objectNames()) == 1
	}, 2*time.Second, 10*time.Millisecond, "observed message should be uploaded")

	require.NoError(t, archiver.Stop(context.Background()))
}
