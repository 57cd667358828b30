package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/extract-trainer/internal/model"
)

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PENERBITAN DAN PENYIARAN", NormalizeText("  PENERBITAN\n DAN\r\n\tPENYIARAN  "))
	assert.Equal(t, "010302", NormalizeText("０１０３０２"))
	assert.Equal(t, "", NormalizeText(" \n "))
}

func TestNormalizeDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"2024-07-03", "2024-07-03"},
		{"03/07/2024", "2024-07-03"},
		{"3/7/2024", "2024-07-03"},
		{"03-07-2024", "2024-07-03"},
		{"03.07.2024", "2024-07-03"},
		{"2024/07/03", "2024-07-03"},
		{"3 July 2024", "2024-07-03"},
		{"03 Jul 2024", "2024-07-03"},
		{"3 JULI 2024", "2024-07-03"},
		{"17 Agustus 1945", "1945-08-17"},
		{"25 Desember 2023", "2023-12-25"},
		{"July 3, 2024", "2024-07-03"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeDate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeDate_CanonicalRoundTrip(t *testing.T) {
	t.Parallel()

	for _, d := range []string{"2024-07-03", "1999-12-31", "2020-02-29"} {
		got, err := NormalizeDate(d)
		require.NoError(t, err)
		assert.Equal(t, d, got)

		again, err := NormalizeDate(got)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
}

func TestNormalizeDate_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "yesterday", "31/02/2024", "2024-13-01", "07/2024"} {
		_, err := NormalizeDate(in)
		assert.Error(t, err, in)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, Similarity(model.String("PERTANIAN"), model.String(" PERTANIAN ")))
	assert.Equal(t, 0.0, Similarity(nil, model.String("PERTANIAN")))
	assert.Equal(t, 0.0, Similarity(model.String("PERTANIAN"), nil))

	near := Similarity(model.String("PERTAN1AN"), model.String("PERTANIAN"))
	assert.Greater(t, near, 0.8)
	assert.Less(t, near, 1.0)

	far := Similarity(model.String("XYZ"), model.String("PERTANIAN"))
	assert.Less(t, far, near)
	assert.GreaterOrEqual(t, far, 0.0)
}

func TestFieldSimilarity(t *testing.T) {
	t.Parallel()

	truth := model.Record{Code: model.String("010302"), Category: model.String("PERTANIAN")}

	assert.Equal(t, 1.0, FieldSimilarity(truth, truth, model.FieldCode))
	assert.Equal(t, 0.0, FieldSimilarity(model.Record{Code: model.String("010303")}, truth, model.FieldCode))
	assert.Equal(t, 0.0, FieldSimilarity(model.Record{}, truth, model.FieldCode))

	text := FieldSimilarity(model.Record{Category: model.String("PERTANlAN")}, truth, model.FieldCategory)
	assert.Greater(t, text, 0.8)
	assert.Less(t, text, 1.0)
}
