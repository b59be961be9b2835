package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BatchConfig holds batching and pacing settings for a BatchEncoder.
type BatchConfig struct {
	// BatchSize is the number of texts per encode request. Defaults to 5.
	BatchSize int
	// CallsPerSecond is the global ceiling on encode request rate,
	// enforced regardless of worker count. Defaults to 5 (300/min).
	CallsPerSecond float64
	// Workers is the size of the worker pool. Defaults to 4.
	Workers int
}

// BatchEncoder fans chunk texts out to a bounded worker pool in fixed-size
// sub-batches, pacing submissions with a global rate limiter. Results are
// gathered in submission order so output indices line up with the input.
type BatchEncoder struct {
	enc       Encoder
	batchSize int
	workers   int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewBatchEncoder creates a batch encoder over enc. The rate ceiling comes
// from cfg so tests can inject a fast limiter.
func NewBatchEncoder(enc Encoder, cfg BatchConfig, logger *zap.Logger) *BatchEncoder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.CallsPerSecond <= 0 {
		cfg.CallsPerSecond = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &BatchEncoder{
		enc:       enc,
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
		// Burst 1: submitting N sub-batches takes at least (N-1)/cps
		// wall-clock time no matter how wide the pool is.
		limiter: rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), 1),
		logger:  logger,
	}
}

// Dimensions returns the underlying encoder's embedding dimension.
func (b *BatchEncoder) Dimensions() int {
	return b.enc.Dimensions()
}

// EncodeOne embeds a single text (used for query prompts).
func (b *BatchEncoder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vectors, err := b.enc.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EncodeChunks embeds texts in sub-batches and returns a same-length vector
// slice plus a success mask. An encode failure marks that sub-batch's
// entries as failed (nil vector, false mask) and is never fatal; the only
// error case is context cancellation.
func (b *BatchEncoder) EncodeChunks(ctx context.Context, texts []string) ([][]float32, []bool, error) {
	vectors := make([][]float32, len(texts))

	var g errgroup.Group
	g.SetLimit(b.workers)
	for start := 0; start < len(texts); start += b.batchSize {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start := start
		batch := texts[start:end]
		g.Go(func() error {
			t0 := time.Now()
			out, err := b.enc.Encode(ctx, batch)
			if err != nil || len(out) != len(batch) {
				b.logger.Warn("encode sub-batch failed",
					zap.Int("start", start),
					zap.Int("size", len(batch)),
					zap.Error(err))
				return nil
			}
			// Each task owns its own result slots; no shared mutable state.
			copy(vectors[start:end], out)
			b.logger.Debug("encoded sub-batch",
				zap.Int("start", start),
				zap.Int("size", len(batch)),
				zap.Duration("took", time.Since(t0)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ok := make([]bool, len(texts))
	for i, v := range vectors {
		ok[i] = v != nil
	}
	return vectors, ok, nil
}
