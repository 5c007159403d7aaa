package scanner

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"genomevault/internal/models"
)

// Defaults for the anomaly detector.
const (
	DefaultFeatureDim = 784
	DefaultMaxBody    = 250000
)

// amlMagic marks the model weight file.
const amlMagic = "AML1"

// baseIndex maps A/C/G/T (any case) to 0..3, anything else to -1.
// Ambiguous and gap characters contribute nothing to k-mer counts.
func baseIndex(c byte) int {
	switch c | 0x20 {
	case 'a':
		return 0
	case 'c':
		return 1
	case 'g':
		return 2
	case 't':
		return 3
	}
	return -1
}

// ExtractFeatures maps a FASTA body to a fixed-dimension vector in
// [0, 1]: 64 trinucleotide frequencies, 16 dinucleotide frequencies,
// GC fraction, the longest homopolymer run and the four per-base run
// maxima (all normalized by body length), zero-padded or truncated to
// dim.
func ExtractFeatures(body []byte, dim int) []float64 {
	if dim <= 0 {
		dim = DefaultFeatureDim
	}
	// 64 tri + 16 di + GC + longest run + 4 per-base maxima.
	const computed = 64 + 16 + 1 + 1 + 4
	features := make([]float64, max(dim, computed))

	var tri [64]float64
	var di [16]float64
	var triTotal, diTotal float64
	var gc, acgt float64
	var runMax [4]float64
	longest, run := 0.0, 0.0
	prev := -1

	for i := 0; i < len(body); i++ {
		b := baseIndex(body[i])
		if b < 0 {
			prev = -1
			run = 0
			continue
		}
		acgt++
		if b == 1 || b == 2 {
			gc++
		}
		if b == prev {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		if run > runMax[b] {
			runMax[b] = run
		}
		if prev >= 0 {
			di[prev*4+b]++
			diTotal++
		}
		if i >= 2 {
			b0, b1 := baseIndex(body[i-2]), baseIndex(body[i-1])
			if b0 >= 0 && b1 >= 0 {
				tri[b0*16+b1*4+b]++
				triTotal++
			}
		}
		prev = b
	}

	at := 0
	if triTotal > 0 {
		for i := range tri {
			features[at+i] = tri[i] / triTotal
		}
	}
	at += 64
	if diTotal > 0 {
		for i := range di {
			features[at+i] = di[i] / diTotal
		}
	}
	at += 16
	if acgt > 0 {
		features[at] = gc / acgt
	}
	at++
	n := float64(len(body))
	if n > 0 {
		features[at] = longest / n
		for i := 0; i < 4; i++ {
			features[at+1+i] = runMax[i] / n
		}
	}
	return features[:dim]
}

// autoencoder is a dense denoising autoencoder: D -> H1 -> H2 -> H1 -> D
// with ReLU on the hidden layers and a sigmoid output.
type autoencoder struct {
	dim, h1, h2            int
	w1, b1, w2, b2, w3, b3 []float64
	w4, b4                 []float64
}

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// dense computes out = act(W*in + b) for a rows x cols row-major W.
func dense(w, b, in []float64, rows, cols int, act func(float64) float64) []float64 {
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		sum := b[r]
		row := w[r*cols:]
		for c := 0; c < cols; c++ {
			sum += row[c] * in[c]
		}
		out[r] = act(sum)
	}
	return out
}

func (m *autoencoder) reconstruct(in []float64) []float64 {
	h := dense(m.w1, m.b1, in, m.h1, m.dim, relu)
	h = dense(m.w2, m.b2, h, m.h2, m.h1, relu)
	h = dense(m.w3, m.b3, h, m.h1, m.h2, relu)
	return dense(m.w4, m.b4, h, m.dim, m.h1, sigmoid)
}

func readFloats(r io.Reader, n int) ([]float64, error) {
	buf := make([]byte, n*8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

func loadAutoencoder(path string) (*autoencoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("read model header: %w", err)
	}
	if string(magic) != amlMagic {
		return nil, fmt.Errorf("bad model magic %q", magic)
	}
	var dims [3]uint32
	if err := binary.Read(f, binary.LittleEndian, &dims); err != nil {
		return nil, fmt.Errorf("read model dims: %w", err)
	}
	m := &autoencoder{dim: int(dims[0]), h1: int(dims[1]), h2: int(dims[2])}
	if m.dim <= 0 || m.h1 <= 0 || m.h2 <= 0 || m.dim > 1<<16 || m.h1 > 1<<16 || m.h2 > 1<<16 {
		return nil, fmt.Errorf("implausible model dims %dx%dx%d", m.dim, m.h1, m.h2)
	}
	layers := []struct {
		w    *[]float64
		b    *[]float64
		rows int
		cols int
	}{
		{&m.w1, &m.b1, m.h1, m.dim},
		{&m.w2, &m.b2, m.h2, m.h1},
		{&m.w3, &m.b3, m.h1, m.h2},
		{&m.w4, &m.b4, m.dim, m.h1},
	}
	for _, l := range layers {
		if *l.w, err = readFloats(f, l.rows*l.cols); err != nil {
			return nil, fmt.Errorf("read model weights: %w", err)
		}
		if *l.b, err = readFloats(f, l.rows); err != nil {
			return nil, fmt.Errorf("read model biases: %w", err)
		}
	}
	return m, nil
}

// WriteAutoencoder serializes model weights in the aml.bin layout.
// Used by tooling and tests; the server only reads.
func WriteAutoencoder(w io.Writer, dim, h1, h2 int, layers ...[]float64) error {
	if _, err := w.Write([]byte(amlMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, [3]uint32{uint32(dim), uint32(h1), uint32(h2)}); err != nil {
		return err
	}
	for _, l := range layers {
		buf := make([]byte, len(l)*8)
		for i, v := range l {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// AML is the anomaly-based adversarial-input detector. With no model
// loaded it reports skip verdicts rather than failing uploads.
type AML struct {
	model     *autoencoder
	threshold float64
	maxBody   int
	log       *zap.SugaredLogger
}

// AMLResult is the detector verdict. Skipped is set when no model is
// loaded; the pipeline treats skip as non-fatal.
type AMLResult struct {
	Passed  bool
	Skipped bool
	Detail  models.AMLDetail
}

// NewAML loads model weights and the threshold sidecar. Missing files
// put the detector in skip mode; a corrupt model is an error.
func NewAML(modelPath, thresholdPath string, maxBody int, log *zap.SugaredLogger) (*AML, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	a := &AML{maxBody: maxBody, log: log}

	model, err := loadAutoencoder(modelPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Infow("aml model absent, detector in skip mode", "path", modelPath)
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load aml model: %w", err)
	}

	raw, err := os.ReadFile(thresholdPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Infow("aml threshold absent, detector in skip mode", "path", thresholdPath)
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read aml threshold: %w", err)
	}
	threshold, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return nil, fmt.Errorf("parse aml threshold: %w", err)
	}

	a.model = model
	a.threshold = threshold
	log.Infow("aml model loaded", "dim", model.dim, "threshold", threshold)
	return a, nil
}

// Loaded reports whether inference is available.
func (a *AML) Loaded() bool {
	return a.model != nil
}

// Threshold returns the configured pass cutoff.
func (a *AML) Threshold() float64 {
	return a.threshold
}

// Scan extracts features from the upload's FASTA body and scores the
// reconstruction error. thresholdOverride, when > 0, replaces the
// loaded cutoff (tuner published value).
func (a *AML) Scan(data []byte, thresholdOverride float64) AMLResult {
	body := FASTABody(data, a.maxBody)
	threshold := a.threshold
	if thresholdOverride > 0 {
		threshold = thresholdOverride
	}
	detail := models.AMLDetail{
		Threshold:      threshold,
		FeatureDim:     DefaultFeatureDim,
		BodyLengthUsed: len(body),
		ModelLoaded:    a.model != nil,
	}
	if a.model == nil {
		return AMLResult{Skipped: true, Detail: detail}
	}

	features := ExtractFeatures(body, a.model.dim)
	detail.FeatureDim = a.model.dim
	recon := a.model.reconstruct(features)
	var sum float64
	for i := range features {
		d := features[i] - recon[i]
		sum += d * d
	}
	score := sum / float64(len(features))
	detail.Score = score
	return AMLResult{Passed: score <= threshold, Detail: detail}
}
