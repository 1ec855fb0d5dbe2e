package ml

import (
	"fmt"
	"math"
)

const (
	// LossMSE compares the raw forecast with the channel softmax of the
	// true future.
	LossMSE LossType = "mse"
	// LossSoftCrossEntropy treats the forecast as channel logits and the
	// channel softmax of the true future as the target distribution.
	LossSoftCrossEntropy LossType = "soft_cross_entropy"
)

type LossType string

func ParseLoss(s string) (LossType, error) {
	switch LossType(s) {
	case "", LossMSE:
		return LossMSE, nil
	case LossSoftCrossEntropy:
		return LossSoftCrossEntropy, nil
	default:
		return "", fmt.Errorf("unknown loss %q", s)
	}
}

// lossBuffers is per-worker scratch for one sample's loss.
type lossBuffers struct {
	target *Matrix
	probs  *Matrix
	grad   *Matrix
}

func (b *lossBuffers) ensure(rows, cols int) {
	if b.grad != nil && b.grad.rows == rows && b.grad.cols == cols {
		return
	}
	b.target = NewMatrix(rows, cols)
	b.probs = NewMatrix(rows, cols)
	b.grad = NewMatrix(rows, cols)
}

// sampleLoss returns this sample's share of the batch-mean loss and leaves
// the matching gradient in buf.grad. batchSize is the number of samples in
// the batch the sample belongs to.
func sampleLoss(kind LossType, pred, future *Matrix, batchSize int, buf *lossBuffers) float64 {
	if pred.rows != future.rows || pred.cols != future.cols {
		panic(fmt.Sprintf("Loss shape mismatch: forecast [%d, %d], future [%d, %d]",
			pred.rows, pred.cols, future.rows, future.cols))
	}
	buf.ensure(pred.rows, pred.cols)
	SoftmaxColumns(buf.target, future)
	tgt, grad := buf.target.data, buf.grad.data

	switch kind {
	case LossSoftCrossEntropy:
		// mean over (batch, time) of -sum_c t_c * log softmax(pred)_c
		n := float64(batchSize * pred.cols)
		SoftmaxColumns(buf.probs, pred)
		loss := 0.0
		for k, p := range buf.probs.data {
			loss -= tgt[k] * math.Log(math.Max(p, 1e-300))
			grad[k] = (p - tgt[k]) / n
		}
		return loss / n

	default:
		// mean over (batch, channel, time) of squared error
		n := float64(batchSize * len(pred.data))
		loss := 0.0
		for k, p := range pred.data {
			d := p - tgt[k]
			loss += d * d
			grad[k] = 2 * d / n
		}
		return loss / n
	}
}
