package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "tpoflow/config"
	"tpoflow/logger"
	"tpoflow/models"
)

// signalRecord is the parquet row layout of one journaled signal.
type signalRecord struct {
	ID            string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type          string  `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol        string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp     int64   `parquet:"name=timestamp, type=INT64"`
	Price         float64 `parquet:"name=price, type=DOUBLE"`
	Confidence    float64 `parquet:"name=confidence, type=DOUBLE"`
	ProfileEvent  string  `parquet:"name=profile_event, type=BYTE_ARRAY, convertedtype=UTF8"`
	VWAPAligned   bool    `parquet:"name=vwap_aligned, type=BOOLEAN"`
	Confirmations int32   `parquet:"name=confirmations, type=INT32"`
	VAH           float64 `parquet:"name=vah, type=DOUBLE"`
	POC           float64 `parquet:"name=poc, type=DOUBLE"`
	VAL           float64 `parquet:"name=val, type=DOUBLE"`
	VWAP          float64 `parquet:"name=vwap, type=DOUBLE"`
	Delta         float64 `parquet:"name=delta, type=DOUBLE"`
	CVD           float64 `parquet:"name=cvd, type=DOUBLE"`
	OIChangePct   float64 `parquet:"name=oi_change_pct, type=DOUBLE"`
	OIChangeValid bool    `parquet:"name=oi_change_valid, type=BOOLEAN"`
}

// memoryFile implements the parquet source interface over a byte buffer so
// files can be built in memory before hitting disk or S3.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memoryFile) Read(b []byte) (int, error)                { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                              { return nil }
func (m *memoryFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Journal persists emitted signals as parquet files on a flush interval,
// locally and optionally to S3, for later replay analysis.
type Journal struct {
	config      *appconfig.Config
	signals     <-chan models.SignalEvent
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      []models.SignalEvent
	flushTicker *time.Ticker

	signalsRecorded int64
	filesWritten    int64
	uploadErrors    int64
}

func NewJournal(cfg *appconfig.Config, signals <-chan models.SignalEvent) (*Journal, error) {
	log := logger.GetLogger()

	j := &Journal{
		config:  cfg,
		signals: signals,
		wg:      &sync.WaitGroup{},
		log:     log,
	}

	if cfg.Journal.S3.Enabled {
		client, err := newS3Client(cfg.Journal.S3)
		if err != nil {
			return nil, err
		}
		j.s3Client = client
	}

	log.WithComponent("journal").WithFields(logger.Fields{
		"dir":            cfg.Journal.Dir,
		"flush_interval": cfg.Journal.FlushInterval.String(),
		"s3_enabled":     cfg.Journal.S3.Enabled,
	}).Info("signal journal initialized")

	return j, nil
}

func newS3Client(cfg appconfig.S3Config) (*s3.Client, error) {
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	return s3.NewFromConfig(awsCfg), nil
}

func (j *Journal) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("journal already running")
	}
	j.running = true
	j.ctx = ctx
	j.mu.Unlock()

	log := j.log.WithComponent("journal").WithFields(logger.Fields{"operation": "start"})

	if err := os.MkdirAll(j.config.Journal.Dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	j.flushTicker = time.NewTicker(j.config.Journal.FlushInterval)

	j.wg.Add(1)
	go j.worker()

	j.wg.Add(1)
	go j.flushWorker()

	log.Info("journal started successfully")
	return nil
}

func (j *Journal) Stop() {
	j.mu.Lock()
	j.running = false
	j.mu.Unlock()

	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}

	j.log.WithComponent("journal").Info("stopping journal")
	j.wg.Wait()
	j.log.WithComponent("journal").Info("journal stopped")
}

func (j *Journal) worker() {
	defer j.wg.Done()

	log := j.log.WithComponent("journal").WithFields(logger.Fields{"worker": "journal"})
	log.Info("starting journal worker")

	for {
		select {
		case <-j.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case sig, ok := <-j.signals:
			if !ok {
				log.Info("signal channel closed, worker stopping")
				return
			}
			j.mu.Lock()
			j.buffer = append(j.buffer, sig)
			j.signalsRecorded++
			j.mu.Unlock()
		}
	}
}

func (j *Journal) flushWorker() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			j.flush("shutdown")
			return
		case <-j.flushTicker.C:
			j.flush("interval")
		}
	}
}

func (j *Journal) flush(reason string) {
	j.mu.Lock()
	signals := j.buffer
	j.buffer = nil
	j.mu.Unlock()

	if len(signals) == 0 {
		return
	}

	log := j.log.WithComponent("journal").WithFields(logger.Fields{
		"signals": len(signals),
		"reason":  reason,
	})
	log.Info("flushing signal journal")

	data, err := buildParquet(signals)
	if err != nil {
		log.WithError(err).Error("failed to build parquet file")
		return
	}

	name := fmt.Sprintf("signals_%s_%s.parquet",
		time.Now().UTC().Format("20060102150405"),
		uuid.New().String()[:8])

	path := filepath.Join(j.config.Journal.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.WithError(err).Error("failed to write journal file")
		return
	}
	j.filesWritten++

	log.WithFields(logger.Fields{
		"path":      path,
		"file_size": len(data),
	}).Info("journal file written")

	if j.s3Client != nil {
		j.upload(name, signals[0].Timestamp, data, log)
	}
}

func buildParquet(signals []models.SignalEvent) ([]byte, error) {
	mf := newMemoryFile()
	pw, err := parquetwriter.NewParquetWriter(mf, new(signalRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, sig := range signals {
		rec := signalRecord{
			ID:            sig.ID,
			Type:          string(sig.Type),
			Symbol:        sig.Symbol,
			Timestamp:     sig.Timestamp.UnixMilli(),
			Price:         sig.Price,
			Confidence:    sig.Confidence,
			ProfileEvent:  string(sig.Conditions.ProfileEvent),
			VWAPAligned:   sig.Conditions.VWAPAligned,
			Confirmations: int32(sig.Conditions.FlowConfirmations()),
			VAH:           sig.Context.VAH,
			POC:           sig.Context.POC,
			VAL:           sig.Context.VAL,
			VWAP:          sig.Context.VWAP,
			Delta:         sig.Context.Delta,
			CVD:           sig.Context.CVD,
			OIChangePct:   sig.Context.OIChangePct,
			OIChangeValid: sig.Context.OIChangeValid,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}
	return mf.Bytes(), nil
}

func (j *Journal) upload(name string, ts time.Time, data []byte, log *logger.Entry) {
	key := filepath.ToSlash(filepath.Join(
		j.config.Journal.S3.Prefix,
		fmt.Sprintf("date=%s", ts.UTC().Format("2006-01-02")),
		name,
	))

	input := &s3.PutObjectInput{
		Bucket:      aws.String(j.config.Journal.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}

	ctx := context.WithoutCancel(j.ctx)
	if _, err := j.s3Client.PutObject(ctx, input); err != nil {
		j.uploadErrors++
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": j.config.Journal.S3.Bucket, "s3_key": key}).
			Error("failed to upload journal file")
		return
	}

	log.WithFields(logger.Fields{"s3_key": key}).Info("journal file uploaded")
}
