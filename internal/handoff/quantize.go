package handoff

import (
	"context"
	"math"
	"strconv"
	"strings"
)

// Compile-time check that Quantizer implements Compressor.
var _ Compressor = (*Quantizer)(nil)

// Quantizer compresses numeric payloads (metrics, vectors, tables)
// locally: it downsamples lines to approach the target ratio and
// rounds floats to reduced precision. No external provider involved,
// so it never rate limits and is cheap enough to run inline in a
// background task.
type Quantizer struct {
	// Digits is the number of significant digits kept. Zero means 4.
	Digits int
}

// NewQuantizer returns a Quantizer with default precision.
func NewQuantizer() *Quantizer {
	return &Quantizer{Digits: 4}
}

// Compress downsamples and re-renders numeric content.
func (q *Quantizer) Compress(ctx context.Context, content string, targetRatio float64) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if targetRatio <= 0 || targetRatio >= 1 {
		targetRatio = 0.5
	}

	lines := strings.Split(content, "\n")
	stride := 1
	if len(lines) > 1 {
		stride = int(math.Ceil(1 / targetRatio))
	}

	digits := q.Digits
	if digits <= 0 {
		digits = 4
	}

	var b strings.Builder
	b.Grow(int(float64(len(content)) * targetRatio))
	kept := 0
	for i, line := range lines {
		if i%stride != 0 {
			continue
		}
		if kept > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(quantizeLine(line, digits))
		kept++
	}

	out := b.String()
	if len(out) >= len(content) {
		return "", ErrIneffective
	}
	return out, nil
}

// quantizeLine rounds each numeric field to the given significant
// digits, leaving non-numeric fields as they are.
func quantizeLine(line string, digits int) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		trimmed := strings.TrimRight(f, ",;")
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			continue
		}
		suffix := f[len(trimmed):]
		fields[i] = strconv.FormatFloat(roundSig(v, digits), 'g', -1, 64) + suffix
	}
	return strings.Join(fields, " ")
}

// roundSig rounds v to n significant digits.
func roundSig(v float64, n int) float64 {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	mag := math.Pow(10, float64(n)-math.Ceil(math.Log10(math.Abs(v))))
	return math.Round(v*mag) / mag
}
