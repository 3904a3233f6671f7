package fluxruntime

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the number of prompts kept per process.
const DefaultEmbeddingCacheSize = 16

type embeddingKey struct {
	modelDir string
	prompt   string
}

type storedEmbedding struct {
	seqLen  int
	textDim int
	values  quantizedValues
}

// EmbeddingCache keeps recently encoded prompts in 4-bit form. It is safe
// for concurrent use.
type EmbeddingCache struct {
	entries *lru.Cache[embeddingKey, storedEmbedding]
}

// NewEmbeddingCache creates a cache holding up to size prompts.
func NewEmbeddingCache(size int) (*EmbeddingCache, error) {
	entries, err := lru.New[embeddingKey, storedEmbedding](size)
	if err != nil {
		return nil, err
	}
	return &EmbeddingCache{entries: entries}, nil
}

// Lookup returns the dequantized embedding for prompt under modelDir and
// marks it most recently used.
func (c *EmbeddingCache) Lookup(modelDir, prompt string) (Embedding, bool) {
	stored, ok := c.entries.Get(embeddingKey{modelDir: modelDir, prompt: prompt})
	if !ok {
		return Embedding{}, false
	}
	return Embedding{
		SeqLen:  stored.seqLen,
		TextDim: stored.textDim,
		Values:  stored.values.dequantize(),
	}, true
}

// Store quantizes emb and inserts it, evicting the least recently used
// entry when full.
func (c *EmbeddingCache) Store(modelDir, prompt string, emb Embedding) {
	c.entries.Add(embeddingKey{modelDir: modelDir, prompt: prompt}, storedEmbedding{
		seqLen:  emb.SeqLen,
		textDim: emb.TextDim,
		values:  quantize(emb.Values),
	})
}

// Len returns the number of cached prompts.
func (c *EmbeddingCache) Len() int {
	return c.entries.Len()
}

// Bytes returns the quantized payload size of all cached prompts.
func (c *EmbeddingCache) Bytes() int {
	total := 0
	for _, key := range c.entries.Keys() {
		if stored, ok := c.entries.Peek(key); ok {
			total += stored.values.size()
		}
	}
	return total
}

// Purge drops every entry.
func (c *EmbeddingCache) Purge() {
	c.entries.Purge()
}
