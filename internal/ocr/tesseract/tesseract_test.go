package tesseract

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe-backend/internal/ocr"
)

type fakeClient struct {
	image    []byte
	langs    []string
	vars     map[string]string
	psm      *gosseract.PageSegMode
	cfgPath  string
	config   string
	text     string
	textErr  error
	boxes    []gosseract.BoundingBox
	boxesErr error
	closed   bool
}

func (f *fakeClient) SetImageFromBytes(data []byte) error { f.image = data; return nil }
func (f *fakeClient) SetLanguage(langs ...string) error   { f.langs = langs; return nil }
func (f *fakeClient) SetVariable(key gosseract.SettableVariable, value string) error {
	if f.vars == nil {
		f.vars = map[string]string{}
	}
	f.vars[string(key)] = value
	return nil
}
func (f *fakeClient) SetConfigFile(fpath string) error {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return err
	}
	f.cfgPath, f.config = fpath, string(data)
	return nil
}
func (f *fakeClient) SetPageSegMode(mode gosseract.PageSegMode) error { f.psm = &mode; return nil }
func (f *fakeClient) Text() (string, error)                          { return f.text, f.textErr }
func (f *fakeClient) GetBoundingBoxes(gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error) {
	return f.boxes, f.boxesErr
}
func (f *fakeClient) Close() error { f.closed = true; return nil }

func adapterWith(t ocr.Tuning, c *fakeClient) *Adapter {
	return NewWithClient(t, func() Client { return c })
}

func TestProcessImage(t *testing.T) {
	c := &fakeClient{
		text: "Hello World",
		boxes: []gosseract.BoundingBox{
			{Word: "Hello", Confidence: 90},
			{Word: "World", Confidence: 85},
			{Word: "", Confidence: -1},
		},
	}
	res, err := adapterWith(ocr.Tuning{}, c).Process(context.Background(), []byte("png"), "image/png", []string{"eng", "deu"})
	require.NoError(t, err)

	assert.Equal(t, "Hello World", res.CombinedText)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, 0.875, res.MeanConfidence)
	assert.Equal(t, 0.875, res.Pages[0].Confidence)
	assert.Equal(t, "eng+deu", res.Pages[0].Language)
	assert.Equal(t, []string{"eng", "deu"}, c.langs)
	assert.Equal(t, []byte("png"), c.image)
	assert.True(t, c.closed)
	assert.Nil(t, c.psm)
	assert.Empty(t, c.vars)
	assert.Empty(t, c.cfgPath)
}

func TestProcessNoValidWords(t *testing.T) {
	c := &fakeClient{boxes: []gosseract.BoundingBox{{Confidence: -1}}}
	res, err := adapterWith(ocr.Tuning{}, c).Process(context.Background(), []byte("png"), "image/png", nil)
	require.NoError(t, err)
	assert.Zero(t, res.MeanConfidence)

	c = &fakeClient{text: "x", boxesErr: errors.New("no iterator")}
	res, err = adapterWith(ocr.Tuning{}, c).Process(context.Background(), []byte("png"), "image/png", nil)
	require.NoError(t, err)
	assert.Zero(t, res.MeanConfidence)
}

func TestProcessNonImageIsEmpty(t *testing.T) {
	c := &fakeClient{text: "should not run"}
	res, err := adapterWith(ocr.Tuning{}, c).Process(context.Background(), []byte("%PDF"), "application/pdf", nil)
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	assert.Empty(t, res.CombinedText)
	assert.Zero(t, res.Pages[0].Confidence)
	assert.Nil(t, c.image)
}

func TestProcessAppliesTuning(t *testing.T) {
	oem, psm := 1, 6
	c := &fakeClient{}
	_, err := adapterWith(ocr.Tuning{EngineMode: &oem, PageSegMode: &psm}, c).
		Process(context.Background(), []byte("png"), "image/png", []string{"eng"})
	require.NoError(t, err)
	assert.Equal(t, "tessedit_ocr_engine_mode 1\n", c.config)
	assert.NotContains(t, c.vars, "tessedit_ocr_engine_mode")
	require.NotNil(t, c.psm)
	assert.Equal(t, gosseract.PageSegMode(6), *c.psm)

	_, statErr := os.Stat(c.cfgPath)
	assert.True(t, os.IsNotExist(statErr), "scratch config should be removed after recognition")
}

func TestExtraFlagsOverrideTuning(t *testing.T) {
	oem, psm := 1, 6
	c := &fakeClient{}
	tuning := ocr.Tuning{EngineMode: &oem, PageSegMode: &psm, TesseractExtra: "--psm 4 -c preserve_interword_spaces=1"}
	_, err := adapterWith(tuning, c).Process(context.Background(), []byte("png"), "image/png", nil)
	require.NoError(t, err)
	assert.Equal(t, gosseract.PageSegMode(4), *c.psm)
	assert.Equal(t, "tessedit_ocr_engine_mode 1\n", c.config)
	assert.Equal(t, "1", c.vars["preserve_interword_spaces"])
}

func TestInitOnlyVariablesGoToConfigFile(t *testing.T) {
	c := &fakeClient{}
	tuning := ocr.Tuning{TesseractExtra: "--oem 3 -c load_system_dawg=0 -c textord_min_linesize=2.5"}
	_, err := adapterWith(tuning, c).Process(context.Background(), []byte("png"), "image/png", nil)
	require.NoError(t, err)
	assert.Equal(t, "tessedit_ocr_engine_mode 3\nload_system_dawg 0\n", c.config)
	assert.Equal(t, map[string]string{"textord_min_linesize": "2.5"}, c.vars)
}

func TestProcessTextError(t *testing.T) {
	c := &fakeClient{textErr: errors.New("engine crashed")}
	_, err := adapterWith(ocr.Tuning{}, c).Process(context.Background(), []byte("png"), "image/jpeg", nil)
	require.Error(t, err)
	assert.True(t, c.closed)
}

func TestParseExtra(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		psm     *int
		oem     *int
		vars    int
		wantErr bool
	}{
		{name: "empty", raw: ""},
		{name: "psm and oem", raw: "--psm 3 --oem 2", psm: intp(3), oem: intp(2)},
		{name: "inline", raw: "--psm=11", psm: intp(11)},
		{name: "variables", raw: "-c a=1 -c b=two", vars: 2},
		{name: "unknown ignored", raw: "-l eng --dpi 300"},
		{name: "missing value", raw: "--psm", wantErr: true},
		{name: "bad number", raw: "--oem x", wantErr: true},
		{name: "bad variable", raw: "-c novalue", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := ParseExtra(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.psm, f.PageSegMode)
			assert.Equal(t, tc.oem, f.EngineMode)
			assert.Len(t, f.Variables, tc.vars)
		})
	}
}

func intp(v int) *int { return &v }
