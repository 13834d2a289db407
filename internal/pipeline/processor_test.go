package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duncanmillerza/hadada-intake/constants"
	"github.com/duncanmillerza/hadada-intake/internal/audit"
	"github.com/duncanmillerza/hadada-intake/internal/common"
	"github.com/duncanmillerza/hadada-intake/internal/extract"
	"github.com/duncanmillerza/hadada-intake/internal/preprocess"
	"github.com/duncanmillerza/hadada-intake/internal/remote"
	"github.com/duncanmillerza/hadada-intake/internal/template"
)

type stubTemplates struct {
	tpl       *template.FormTemplate
	err       error
	requested []string
}

func (s *stubTemplates) Load(_ context.Context, version string) (*template.FormTemplate, error) {
	s.requested = append(s.requested, version)
	if s.err != nil {
		return nil, s.err
	}
	return s.tpl, nil
}

type stubPrep struct {
	res *preprocess.Result
	err error
}

func (s *stubPrep) Run(_ image.Image) (*preprocess.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

type stubExtractor struct {
	res *extract.Result
	err error
}

func (s *stubExtractor) Extract(_ context.Context, _ *image.Gray, _ *template.FormTemplate) (*extract.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

type stubRemote struct {
	guesses map[string]remote.FieldGuess
	err     error
	calls   int
}

func (s *stubRemote) Analyze(_ context.Context, _ []byte, _ []string) (map[string]remote.FieldGuess, error) {
	s.calls++
	return s.guesses, s.err
}

type stubTrail struct {
	entries []audit.Entry
	err     error
}

func (s *stubTrail) LogExtraction(_ context.Context, e audit.Entry) (*audit.Event, error) {
	s.entries = append(s.entries, e)
	if s.err != nil {
		return nil, s.err
	}
	return &audit.Event{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTemplate() *template.FormTemplate {
	return &template.FormTemplate{
		Version:    "1.0",
		PageWidth:  1000,
		PageHeight: 800,
		DPI:        150,
		Fields: []template.FieldSpec{
			{
				Name:  "patient_name",
				Label: "Patient Name",
				Type:  constants.FieldText,
				Box:   template.BoundingBox{X: 100, Y: 100, Width: 300, Height: 40},
			},
			{
				Name:       "sa_id_number",
				Label:      "ID Number",
				Type:       constants.FieldNumeric,
				Validation: constants.ValidatorNationalID,
				Box:        template.BoundingBox{X: 100, Y: 200, Width: 300, Height: 40},
			},
		},
	}
}

func localReadings(name string, nameConf float64, id string, idConf float64) *extract.Result {
	fields := []extract.FieldReading{
		{Name: "patient_name", Text: name, Confidence: nameConf, Words: 2, Source: constants.SourceLocal},
		{Name: "sa_id_number", Text: id, Confidence: idConf, Words: 1, Source: constants.SourceLocal},
	}
	return &extract.Result{Fields: fields, Overall: (nameConf + idConf) / 2}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type rig struct {
	proc      *Processor
	templates *stubTemplates
	prep      *stubPrep
	extractor *stubExtractor
	remote    *stubRemote
	trail     *stubTrail
}

func newRig(res *extract.Result) *rig {
	r := &rig{
		templates: &stubTemplates{tpl: testTemplate()},
		prep:      &stubPrep{res: &preprocess.Result{Image: image.NewGray(image.Rect(0, 0, 1000, 800))}},
		extractor: &stubExtractor{res: res},
		remote:    &stubRemote{},
		trail:     &stubTrail{},
	}
	r.proc = NewProcessor(
		Config{FallbackThreshold: 60, DefaultTemplateVersion: "1.0"},
		Deps{
			Templates: r.templates,
			Prep:      r.prep,
			Extractor: r.extractor,
			Remote:    r.remote,
			Trail:     r.trail,
		},
		discardLogger(),
	)
	return r
}

func TestProcessHappyPath(t *testing.T) {
	r := newRig(localReadings("Jane Mokoena", 90, "8501015800085", 80))
	r.prep.res.Warnings = []string{"perspective correction skipped: no page boundary found"}

	resp, err := r.proc.Process(context.Background(), Request{
		ImageData:       testPNG(t),
		TemplateVersion: "1.0",
		UserIdentifier:  "therapist-7",
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.True(t, resp.Success)
	assert.Equal(t, "1.0", resp.TemplateVersion)
	assert.Equal(t, 0, r.remote.calls, "confident run must not call the remote service")
	assert.False(t, resp.RemoteUsed())
	assert.InDelta(t, 85.0, resp.Data.OverallConfidence, 1e-9)

	id, ok := resp.Field("sa_id_number")
	require.True(t, ok)
	assert.True(t, id.Valid)
	assert.Equal(t, "8501015800085", id.Value)
	require.NotNil(t, id.NormalizedValue)
	assert.Equal(t, "8501015800085", *id.NormalizedValue)
	assert.Equal(t, constants.SourceLocal, id.Source)

	name, ok := resp.Field("patient_name")
	require.True(t, ok)
	assert.True(t, name.Valid)
	assert.Equal(t, "Jane Mokoena", name.Value)

	require.Len(t, resp.Data.Warnings, 1)
	assert.Contains(t, resp.Data.Warnings[0], "perspective")

	require.Len(t, r.trail.entries, 1)
	entry := r.trail.entries[0]
	assert.True(t, entry.Success)
	assert.False(t, entry.RemoteUsed)
	assert.Equal(t, 2, entry.FieldCount)
	assert.Equal(t, "1.0", entry.TemplateVersion)
	assert.Equal(t, "therapist-7", entry.UserIdentifier)
	assert.InDelta(t, 85.0, entry.OverallConfidence, 1e-9)
}

func TestProcessFallbackMergeKeepsHigherConfidence(t *testing.T) {
	r := newRig(localReadings("Jlm Mokena", 40, "8501015800085", 55))
	r.remote.guesses = map[string]remote.FieldGuess{
		"patient_name": {Value: "Jane Mokoena", Confidence: 90},
		"sa_id_number": {Value: "9901015800083", Confidence: 30},
	}

	resp, err := r.proc.Process(context.Background(), Request{
		ImageData:       testPNG(t),
		TemplateVersion: "1.0",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, r.remote.calls)
	assert.True(t, resp.RemoteUsed())

	name, _ := resp.Field("patient_name")
	assert.Equal(t, constants.SourceRemote, name.Source)
	assert.Equal(t, "Jane Mokoena", name.Value)
	assert.InDelta(t, 90.0, name.Confidence, 1e-9)

	id, _ := resp.Field("sa_id_number")
	assert.Equal(t, constants.SourceLocal, id.Source, "lower-confidence guess must not displace the local reading")
	assert.InDelta(t, 55.0, id.Confidence, 1e-9)

	assert.InDelta(t, 72.5, resp.Data.OverallConfidence, 1e-9, "overall reflects retained values")

	require.Len(t, r.trail.entries, 1)
	assert.True(t, r.trail.entries[0].RemoteUsed)
}

func TestProcessFallbackWithoutGuessesKeepsLocal(t *testing.T) {
	r := newRig(localReadings("Jlm Mokena", 40, "8501015800085", 55))

	resp, err := r.proc.Process(context.Background(), Request{
		ImageData:       testPNG(t),
		TemplateVersion: "1.0",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, r.remote.calls)
	assert.False(t, resp.RemoteUsed())
	assert.InDelta(t, 47.5, resp.Data.OverallConfidence, 1e-9)

	name, _ := resp.Field("patient_name")
	assert.Equal(t, "Jlm Mokena", name.Value)
	assert.Equal(t, constants.SourceLocal, name.Source)
	assert.False(t, r.trail.entries[0].RemoteUsed)
}

func TestProcessThresholdPrecedence(t *testing.T) {
	t.Run("template override wins", func(t *testing.T) {
		r := newRig(localReadings("Jane Mokoena", 55, "8501015800085", 55))
		r.templates.tpl.FallbackThreshold = 50

		_, err := r.proc.Process(context.Background(), Request{ImageData: testPNG(t), TemplateVersion: "1.0"})
		require.NoError(t, err)
		assert.Equal(t, 0, r.remote.calls, "55 is at or above the template threshold of 50")
	})

	t.Run("config default applies when template is silent", func(t *testing.T) {
		r := newRig(localReadings("Jane Mokoena", 55, "8501015800085", 55))

		_, err := r.proc.Process(context.Background(), Request{ImageData: testPNG(t), TemplateVersion: "1.0"})
		require.NoError(t, err)
		assert.Equal(t, 1, r.remote.calls, "55 is below the configured threshold of 60")
	})
}

func TestProcessValidationFailureIsWarningNotError(t *testing.T) {
	r := newRig(localReadings("Jane Mokoena", 90, "8501015800086", 80))

	resp, err := r.proc.Process(context.Background(), Request{
		ImageData:       testPNG(t),
		TemplateVersion: "1.0",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	id, _ := resp.Field("sa_id_number")
	assert.False(t, id.Valid)
	assert.Nil(t, id.NormalizedValue)
	assert.Equal(t, "8501015800086", id.Value, "invalid readings pass through raw")
	assert.Equal(t, "8501015800086", id.RawValue)

	require.Len(t, resp.Data.Warnings, 1)
	assert.True(t, strings.HasPrefix(resp.Data.Warnings[0], "sa_id_number: "))
	assert.Contains(t, resp.Data.Warnings[0], "checksum")
}

func TestProcessInputErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty payload", nil, common.ErrInvalidInput},
		{"unsupported format", []byte("GIF89a not a supported format"), common.ErrUnsupportedFormat},
		{"undecodable image", []byte{0x89, 'P', 'N', 'G', 0xDE, 0xAD, 0xBE, 0xEF}, common.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(localReadings("x", 90, "y", 80))

			resp, err := r.proc.Process(context.Background(), Request{
				ImageData:       tt.payload,
				TemplateVersion: "1.0",
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, resp)

			require.Len(t, r.trail.entries, 1, "failed attempts are audited too")
			assert.False(t, r.trail.entries[0].Success)
			assert.Equal(t, 0, r.trail.entries[0].FieldCount)
		})
	}
}

func TestProcessTemplateNotFound(t *testing.T) {
	r := newRig(localReadings("x", 90, "y", 80))
	r.templates.err = fmt.Errorf("%w: 9.9", common.ErrTemplateNotFound)

	resp, err := r.proc.Process(context.Background(), Request{
		ImageData:       testPNG(t),
		TemplateVersion: "9.9",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTemplateNotFound)
	assert.Nil(t, resp)

	require.Len(t, r.trail.entries, 1)
	assert.False(t, r.trail.entries[0].Success)
	assert.Equal(t, "9.9", r.trail.entries[0].TemplateVersion)
}

func TestProcessExtractorFailure(t *testing.T) {
	r := newRig(nil)
	r.extractor.err = errors.New("tesseract: exit status 1")

	_, err := r.proc.Process(context.Background(), Request{
		ImageData:       testPNG(t),
		TemplateVersion: "1.0",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local extraction")
	assert.False(t, r.trail.entries[0].Success)
}

func TestProcessAuditFailureDoesNotWithholdResponse(t *testing.T) {
	r := newRig(localReadings("Jane Mokoena", 90, "8501015800085", 80))
	r.trail.err = errors.New("sink down")

	resp, err := r.proc.Process(context.Background(), Request{
		ImageData:       testPNG(t),
		TemplateVersion: "1.0",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestProcessUsesDefaultTemplateVersion(t *testing.T) {
	r := newRig(localReadings("Jane Mokoena", 90, "8501015800085", 80))

	_, err := r.proc.Process(context.Background(), Request{ImageData: testPNG(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0"}, r.templates.requested)
}

func TestMergeReadings(t *testing.T) {
	local := []extract.FieldReading{
		{Name: "patient_name", Text: "Jlm", Confidence: 40, Words: 1, Source: constants.SourceLocal},
		{Name: "sa_id_number", Text: "8501015800085", Confidence: 70, Words: 1, Source: constants.SourceLocal},
	}

	merged := mergeReadings(local, map[string]remote.FieldGuess{
		"patient_name":  {Value: "Jane Mokoena", Confidence: 88},
		"sa_id_number":  {Value: "9901015800083", Confidence: 70},
		"never_defined": {Value: "ignored", Confidence: 99},
	})

	assert.Equal(t, "Jane Mokoena", merged[0].Text)
	assert.Equal(t, 2, merged[0].Words)
	assert.Equal(t, constants.SourceRemote, merged[0].Source)

	assert.Equal(t, "8501015800085", merged[1].Text, "ties keep the local reading")
	assert.Equal(t, constants.SourceLocal, merged[1].Source)

	assert.Equal(t, "Jlm", local[0].Text, "input slice is not mutated")
}

func TestOverallConfidence(t *testing.T) {
	assert.Equal(t, 0.0, overallConfidence(nil))
	assert.InDelta(t, 65.0, overallConfidence([]extract.FieldReading{
		{Confidence: 90}, {Confidence: 40},
	}), 1e-9)
}

func TestResponseJSONShape(t *testing.T) {
	norm := "8501015800085"
	resp := &Response{
		Success:         true,
		TemplateVersion: "1.0",
		Data: Data{
			Fields: []FieldValue{
				{Name: "patient_name", Value: "Jane Mokoena", RawValue: "Jane Mokoena", NormalizedValue: &norm, Confidence: 91.5, Valid: true, Source: constants.SourceLocal},
				{Name: "sa_id_number", Value: "8501015800086", RawValue: "8501015800086", Confidence: 80, Valid: false, Source: constants.SourceRemote},
			},
			OverallConfidence: 85.75,
		},
	}

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	body := string(raw)

	var decoded struct {
		Success         bool           `json:"success"`
		Data            map[string]any `json:"data"`
		TemplateVersion string         `json:"template_version"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.True(t, decoded.Success)
	assert.Equal(t, "1.0", decoded.TemplateVersion)
	assert.Equal(t, 85.75, decoded.Data["overall_confidence"])

	warnings, ok := decoded.Data["warnings"].([]any)
	require.True(t, ok, "warnings must be an array even when empty, got %T", decoded.Data["warnings"])
	assert.Empty(t, warnings)

	name, ok := decoded.Data["patient_name"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Jane Mokoena", name["value"])
	assert.Equal(t, true, name["valid"])
	assert.NotContains(t, name, "source")
	assert.NotContains(t, name, "name")

	id, ok := decoded.Data["sa_id_number"].(map[string]any)
	require.True(t, ok)
	v, present := id["normalized_value"]
	require.True(t, present, "normalized_value key must be present on invalid fields")
	assert.Nil(t, v)

	// Members appear in template declaration order, metrics last.
	assert.Less(t, strings.Index(body, `"patient_name"`), strings.Index(body, `"sa_id_number"`))
	assert.Less(t, strings.Index(body, `"sa_id_number"`), strings.Index(body, `"overall_confidence"`))
	assert.Less(t, strings.Index(body, `"overall_confidence"`), strings.Index(body, `"warnings"`))
}
