package data

import (
	"context"
	"iter"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Batch is a stack of windows: Past[i] and Future[i] are (channels, length)
// and belong to dataset index Indices[i].
type Batch struct {
	Past    []*mat.Dense
	Future  []*mat.Dense
	Indices []int
}

func (b Batch) Len() int { return len(b.Indices) }

// Shape returns (batch, channels, past length).
func (b Batch) Shape() (int, int, int) {
	if len(b.Past) == 0 {
		return 0, 0, 0
	}
	c, l := b.Past[0].Dims()
	return len(b.Past), c, l
}

type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Workers   int   // goroutines assembling batches; <= 0 means 1
	Prefetch  int   // batches assembled ahead of the consumer; <= 0 means 2*Workers
	Seed      int64 // shuffle seed
}

// Loader groups dataset entries into mini-batches.
type Loader struct {
	ds  *Dataset
	cfg LoaderConfig
	rng *rand.Rand
}

func NewLoader(ds *Dataset, cfg LoaderConfig) *Loader {
	if cfg.BatchSize <= 0 {
		panic("BatchSize must be positive")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 2 * cfg.Workers
	}
	seed := uint64(cfg.Seed)
	l := &Loader{ds: ds, cfg: cfg}
	l.Reseed(seed, seed)
	return l
}

// Reseed restarts the shuffle sequence. Loaders reseeded with the same
// (seed, stream) yield the same epoch orders from then on. It must not be
// called while a pass is running.
func (l *Loader) Reseed(seed, stream uint64) {
	l.rng = rand.New(rand.NewPCG(seed, stream^0x9e3779b97f4a7c15))
}

func (l *Loader) Dataset() *Dataset { return l.ds }

// NumBatches is the number of batches per pass; the last may be short.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Batches yields one pass over the dataset. Every call starts a new pass
// and, when shuffling, draws a new order. Batches arrive in dispatch order
// regardless of which worker assembled them. Calls must not overlap.
func (l *Loader) Batches(ctx context.Context) iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		chunks := l.plan()
		if len(chunks) == 0 {
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		slots := make([]chan Batch, len(chunks))
		for i := range slots {
			slots[i] = make(chan Batch, 1)
		}
		jobs := make(chan int)
		tokens := make(chan struct{}, l.cfg.Prefetch)

		var wg sync.WaitGroup
		defer func() {
			cancel()
			wg.Wait()
		}()

		for w := 0; w < l.cfg.Workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := range jobs {
					slots[k] <- l.assemble(chunks[k])
				}
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(jobs)
			for k := range chunks {
				select {
				case tokens <- struct{}{}:
				case <-ctx.Done():
					return
				}
				select {
				case jobs <- k:
				case <-ctx.Done():
					return
				}
			}
		}()

		for k := range chunks {
			var b Batch
			select {
			case b = <-slots[k]:
			case <-ctx.Done():
				return
			}
			<-tokens
			if !yield(b) {
				return
			}
		}
	}
}

// plan returns the index lists of this pass.
func (l *Loader) plan() [][]int {
	n := l.ds.Len()
	order := NewIndexList(n)
	if l.cfg.Shuffle {
		l.rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	var chunks [][]int
	for start := 0; start < n; start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, n)
		chunks = append(chunks, order[start:end])
	}
	return chunks
}

func (l *Loader) assemble(indices []int) Batch {
	b := Batch{
		Past:    make([]*mat.Dense, len(indices)),
		Future:  make([]*mat.Dense, len(indices)),
		Indices: indices,
	}
	for i, idx := range indices {
		b.Past[i], b.Future[i] = l.ds.Get(idx)
	}
	return b
}

func NewIndexList(size int) []int {
	indices := make([]int, size)
	for i := range indices {
		indices[i] = i
	}
	return indices
}
