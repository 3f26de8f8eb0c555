package nn

import (
	"fmt"
	"math"
)

// IgnoreIndex marks a target that CrossEntropyLoss skips.
const IgnoreIndex = -100

// MSELoss is the mean squared error between predictions and targets.
func MSELoss(pred, target []float32) (float32, error) {
	if len(pred) != len(target) {
		return 0, fmt.Errorf("mse: %d predictions vs %d targets: %w", len(pred), len(target), ErrShapeMismatch)
	}
	if len(pred) == 0 {
		return 0, nil
	}
	var sum float64
	for i := range pred {
		d := float64(pred[i]) - float64(target[i])
		sum += d * d
	}
	return float32(sum / float64(len(pred))), nil
}

// CrossEntropyLoss is the mean negative log-likelihood of targets under
// softmax(logits). logits is row-major (len(targets), numClasses). Targets equal
// to IgnoreIndex do not contribute.
func CrossEntropyLoss(logits []float32, numClasses int, targets []int) (float32, error) {
	if numClasses <= 0 || len(logits) != len(targets)*numClasses {
		return 0, fmt.Errorf("cross entropy: %d logits for %d targets x %d classes: %w", len(logits), len(targets), numClasses, ErrShapeMismatch)
	}

	var sum float64
	var count int
	for i, target := range targets {
		if target == IgnoreIndex {
			continue
		}
		if target < 0 || target >= numClasses {
			return 0, fmt.Errorf("cross entropy: target %d for row %d with %d classes: %w", target, i, numClasses, ErrIndexOutOfRange)
		}
		row := logits[i*numClasses : (i+1)*numClasses]
		sum += logSumExp(row) - float64(row[target])
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return float32(sum / float64(count)), nil
}

// BCEWithLogitsLoss is the mean binary cross-entropy of sigmoid(logits) against
// targets in [0, 1], computed in the overflow-free form
// max(x, 0) - x·y + log(1 + e^-|x|).
func BCEWithLogitsLoss(logits, targets []float32) (float32, error) {
	if len(logits) != len(targets) {
		return 0, fmt.Errorf("bce: %d logits vs %d targets: %w", len(logits), len(targets), ErrShapeMismatch)
	}
	if len(logits) == 0 {
		return 0, nil
	}
	var sum float64
	for i := range logits {
		x := float64(logits[i])
		y := float64(targets[i])
		sum += math.Max(x, 0) - x*y + math.Log1p(math.Exp(-math.Abs(x)))
	}
	return float32(sum / float64(len(logits))), nil
}

func logSumExp(row []float32) float64 {
	max := math.Inf(-1)
	for _, v := range row {
		if float64(v) > max {
			max = float64(v)
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - max)
	}
	return max + math.Log(sum)
}
