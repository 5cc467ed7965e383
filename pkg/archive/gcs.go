package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-gateway-fleet/pkg/ingest"
	"github.com/rs/zerolog"
)

// RawRecord is one archived inbound telemetry message.
type RawRecord struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishTime time.Time       `json:"publish_time"`
	ArchivedAt  time.Time       `json:"archived_at"`
}

// NewRawRecord converts an inbound message into its archive form. Non-JSON
// payloads are stored as a JSON string so every line in an archive object is
// valid JSON.
func NewRawRecord(msg ingest.Message) *RawRecord {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(msg.Payload) {
		quoted, _ := json.Marshal(string(msg.Payload))
		payload = quoted
	}
	return &RawRecord{
		ID:          msg.ID,
		Topic:       msg.Topic,
		Payload:     payload,
		PublishTime: msg.PublishTime,
		ArchivedAt:  time.Now().UTC(),
	}
}

// batchKey groups records into daily partitions in the bucket.
func (r *RawRecord) batchKey() string {
	ts := r.PublishTime
	if ts.IsZero() {
		ts = r.ArchivedAt
	}
	return ts.UTC().Format("2006/01/02")
}

// --- GCS Client Abstraction Interfaces ---
//
// These abstract the Google Cloud Storage client so the uploader can be unit
// tested without a real bucket.

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
}

// GCSWriter abstracts a *storage.Writer.
type GCSWriter interface {
	io.WriteCloser
}

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes the concrete *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) GCSWriter {
	return a.handle.NewWriter(ctx)
}

// GCSUploaderConfig holds configuration specific to the GCS uploader.
type GCSUploaderConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSUploader implements BatchSink for RawRecord. It groups records by their
// daily partition key and uploads each group as a compressed JSONL object.
type GCSUploader struct {
	client GCSClient
	config GCSUploaderConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewGCSUploader creates a new uploader configured for Google Cloud Storage.
func NewGCSUploader(gcsClient GCSClient, config GCSUploaderConfig, logger zerolog.Logger) (*GCSUploader, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSUploader{
		client: gcsClient,
		config: config,
		logger: logger.With().Str("component", "GCSUploader").Logger(),
	}, nil
}

// WriteBatch groups the records by partition key and uploads each group to a
// separate, compressed GCS object in parallel.
func (u *GCSUploader) WriteBatch(ctx context.Context, items []*RawRecord) error {
	if len(items) == 0 {
		return nil
	}

	grouped := make(map[string][]*RawRecord)
	for _, item := range items {
		if item != nil {
			grouped[item.batchKey()] = append(grouped[item.batchKey()], item)
		}
	}
	if len(grouped) == 0 {
		return nil
	}

	var uploadWg sync.WaitGroup
	errs := make(chan error, len(grouped))

	for key, group := range grouped {
		uploadWg.Add(1)
		u.wg.Add(1)

		go func(batchKey string, records []*RawRecord) {
			defer uploadWg.Done()
			defer u.wg.Done()
			if err := u.uploadSingleGroup(ctx, batchKey, records); err != nil {
				errs <- err
			}
		}(key, group)
	}

	uploadWg.Wait()
	close(errs)

	var combinedErr error
	for err := range errs {
		if combinedErr == nil {
			combinedErr = err
		} else {
			combinedErr = fmt.Errorf("%v; %w", combinedErr, err)
		}
	}
	return combinedErr
}

// uploadSingleGroup streams one group of records to a GCS object.
func (u *GCSUploader) uploadSingleGroup(ctx context.Context, batchKey string, records []*RawRecord) error {
	objectName := path.Join(u.config.ObjectPrefix, batchKey, fmt.Sprintf("%s.jsonl.gz", uuid.NewString()))
	u.logger.Info().Str("object_name", objectName).Int("record_count", len(records)).Msg("Starting upload for grouped batch.")

	objHandle := u.client.Bucket(u.config.BucketName).Object(objectName)
	gcsWriter := objHandle.NewWriter(ctx)
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		defer func() { _ = gz.Close() }()
		enc := json.NewEncoder(gz)
		for _, rec := range records {
			if err = enc.Encode(rec); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
	}()

	bytesWritten, pipeReadErr := io.Copy(gcsWriter, pr)
	closeErr := gcsWriter.Close()

	if pipeReadErr != nil {
		return fmt.Errorf("failed to stream data for GCS object %s: %w", objectName, pipeReadErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}

	u.logger.Info().
		Str("object_name", objectName).
		Int64("bytes_written", bytesWritten).
		Msg("Successfully uploaded grouped batch to GCS.")
	return nil
}

// Close waits for any pending upload goroutines to complete.
func (u *GCSUploader) Close() error {
	u.wg.Wait()
	return nil
}

// RawArchiver batches raw inbound telemetry into GCS objects.
type RawArchiver struct {
	batcher *Batcher[RawRecord]
}

// NewRawArchiver wraps a sink in a batcher sized for raw telemetry traffic.
func NewRawArchiver(sink BatchSink[RawRecord], cfg BatcherConfig, logger zerolog.Logger) *RawArchiver {
	return &RawArchiver{
		batcher: NewBatcher(cfg, sink, logger.With().Str("component", "RawArchiver").Logger()),
	}
}

// Observe offers one inbound message for archival without blocking ingest.
func (a *RawArchiver) Observe(msg ingest.Message) {
	a.batcher.TrySubmit(NewRawRecord(msg))
}

// Start launches the underlying batcher.
func (a *RawArchiver) Start(ctx context.Context) {
	a.batcher.Start(ctx)
}

// Stop flushes and stops the underlying batcher.
func (a *RawArchiver) Stop(ctx context.Context) error {
	return a.batcher.Stop(ctx)
}
