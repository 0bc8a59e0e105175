package embedders

import (
	"context"
	"log/slog"
)

// ZeroFallback wraps an embedder so that failures degrade to a zero
// vector of the right dimension instead of an error. Downstream
// similarity math treats zero vectors as similarity 0, so storage keeps
// working while search quietly returns nothing for the affected text.
type ZeroFallback struct {
	inner  Embedder
	logger *slog.Logger
}

func WithZeroFallback(inner Embedder, logger *slog.Logger) *ZeroFallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZeroFallback{inner: inner, logger: logger}
}

func (z *ZeroFallback) Dimension() int {
	return z.inner.Dimension()
}

func (z *ZeroFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding, err := z.inner.Embed(ctx, text)
	if err != nil {
		z.logger.Warn("embedding failed, using zero vector", "error", err)
		return make([]float32, z.inner.Dimension()), nil
	}
	return embedding, nil
}
