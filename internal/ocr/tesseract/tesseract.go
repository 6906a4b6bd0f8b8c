// Package tesseract recognizes text in raster images with libtesseract via
// gosseract.
package tesseract

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"docpipe-backend/internal/ocr"
)

// Client is the subset of *gosseract.Client the adapter drives.
type Client interface {
	SetImageFromBytes(data []byte) error
	SetLanguage(langs ...string) error
	SetVariable(key gosseract.SettableVariable, value string) error
	SetConfigFile(fpath string) error
	SetPageSegMode(mode gosseract.PageSegMode) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

const engineModeVariable = "tessedit_ocr_engine_mode"

// initOnlyVariables are read by tesseract only during Init, so they must
// reach it through a config file rather than SetVariable.
var initOnlyVariables = map[string]bool{
	engineModeVariable:   true,
	"load_system_dawg":   true,
	"load_freq_dawg":     true,
	"load_punc_dawg":     true,
	"load_number_dawg":   true,
	"load_unambig_dawg":  true,
	"load_bigram_dawg":   true,
	"user_words_file":    true,
	"user_words_suffix":  true,
	"user_patterns_file": true,
}

// Adapter implements ocr.Adapter for images.
type Adapter struct {
	tuning        ocr.Tuning
	clientFactory func() Client
}

// New returns an adapter using a fresh gosseract client per call.
func New(t ocr.Tuning) *Adapter {
	return &Adapter{tuning: t, clientFactory: func() Client { return gosseract.NewClient() }}
}

// NewWithClient lets callers supply the client constructor.
func NewWithClient(t ocr.Tuning, factory func() Client) *Adapter {
	return &Adapter{tuning: t, clientFactory: factory}
}

// Factory adapts New to ocr.AdapterFactory.
func Factory(t ocr.Tuning) ocr.Adapter { return New(t) }

// Process runs OCR on content. Non-image input yields a single empty page.
func (a *Adapter) Process(ctx context.Context, content []byte, mime string, languages []string) (ocr.Result, error) {
	if !ocr.IsImage(mime) {
		return ocr.Result{Pages: []ocr.Page{{Index: 0}}}, nil
	}
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}

	c := a.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(content); err != nil {
		return ocr.Result{}, fmt.Errorf("set image: %w", err)
	}
	if len(languages) > 0 {
		if err := c.SetLanguage(languages...); err != nil {
			return ocr.Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	cleanup, err := a.applyTuning(c)
	if err != nil {
		return ocr.Result{}, err
	}
	defer cleanup()

	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize text: %w", err)
	}
	conf := meanConfidence(c)

	lang := strings.Join(languages, "+")
	return ocr.Result{
		Pages:          []ocr.Page{{Index: 0, Text: text, Confidence: conf, Language: lang}},
		CombinedText:   text,
		MeanConfidence: conf,
	}, nil
}

// applyTuning configures c. The returned cleanup removes any scratch config
// file and must run after recognition.
func (a *Adapter) applyTuning(c Client) (func(), error) {
	noop := func() {}
	flags, err := ParseExtra(a.tuning.TesseractExtra)
	if err != nil {
		return noop, err
	}
	oem := a.tuning.EngineMode
	if flags.EngineMode != nil {
		oem = flags.EngineMode
	}
	psm := a.tuning.PageSegMode
	if flags.PageSegMode != nil {
		psm = flags.PageSegMode
	}

	var initVars [][2]string
	if oem != nil {
		initVars = append(initVars, [2]string{engineModeVariable, strconv.Itoa(*oem)})
	}
	for _, kv := range flags.Variables {
		if initOnlyVariables[kv[0]] {
			initVars = append(initVars, kv)
			continue
		}
		if err := c.SetVariable(gosseract.SettableVariable(kv[0]), kv[1]); err != nil {
			return noop, fmt.Errorf("set variable %s: %w", kv[0], err)
		}
	}
	if psm != nil {
		if err := c.SetPageSegMode(gosseract.PageSegMode(*psm)); err != nil {
			return noop, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	if len(initVars) == 0 {
		return noop, nil
	}

	path, err := writeConfigFile(initVars)
	if err != nil {
		return noop, err
	}
	cleanup := func() { _ = os.Remove(path) }
	if err := c.SetConfigFile(path); err != nil {
		cleanup()
		return noop, fmt.Errorf("set config file: %w", err)
	}
	return cleanup, nil
}

// writeConfigFile stores vars in tesseract's "key value" config format.
func writeConfigFile(vars [][2]string) (string, error) {
	f, err := os.CreateTemp("", "docpipe-tess-*.cfg")
	if err != nil {
		return "", fmt.Errorf("create tesseract config: %w", err)
	}
	var b strings.Builder
	for _, kv := range vars {
		fmt.Fprintf(&b, "%s %s\n", kv[0], kv[1])
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write tesseract config: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write tesseract config: %w", err)
	}
	return f.Name(), nil
}

// meanConfidence averages non-negative word confidences into [0,1], rounded
// to three decimals.
func meanConfidence(c Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return 0
	}
	var sum float64
	n := 0
	for _, b := range boxes {
		if b.Confidence < 0 {
			continue
		}
		sum += b.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)/100*1000) / 1000
}

// Flags are tesseract CLI options recognized in a raw extra string.
type Flags struct {
	EngineMode  *int
	PageSegMode *int
	Variables   [][2]string
}

// ParseExtra understands "--psm N", "--oem N" and "-c key=value". Unknown
// tokens are ignored.
func ParseExtra(raw string) (Flags, error) {
	var f Flags
	tokens := strings.Fields(raw)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		name, inline, hasInline := strings.Cut(tok, "=")
		next := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			if i+1 >= len(tokens) {
				return "", fmt.Errorf("tesseract flag %s needs a value", tok)
			}
			i++
			return tokens[i], nil
		}
		switch name {
		case "--psm", "--oem":
			v, err := next()
			if err != nil {
				return Flags{}, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return Flags{}, fmt.Errorf("tesseract flag %s: %w", name, err)
			}
			if name == "--psm" {
				f.PageSegMode = &n
			} else {
				f.EngineMode = &n
			}
		case "-c":
			if i+1 >= len(tokens) {
				return Flags{}, fmt.Errorf("tesseract flag -c needs key=value")
			}
			i++
			k, v, ok := strings.Cut(tokens[i], "=")
			if !ok || k == "" {
				return Flags{}, fmt.Errorf("tesseract flag -c %q is not key=value", tokens[i])
			}
			f.Variables = append(f.Variables, [2]string{k, v})
		}
	}
	return f, nil
}

var _ ocr.Adapter = (*Adapter)(nil)
