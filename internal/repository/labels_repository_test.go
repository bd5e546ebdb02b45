package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

func TestParseLabels(t *testing.T) {
	t.Run("native array", func(t *testing.T) {
		labels, err := ParseLabels([]byte(`[
			{"id": "taltz", "drugName": " Taltz ", "genericName": "ixekizumab", "indications": "<p>plaque psoriasis</p>"},
			{"drugName": "no id"}
		]`))
		require.NoError(t, err)
		require.Len(t, labels, 1)
		assert.Equal(t, "Taltz", labels[0].DrugName)
		assert.Equal(t, "<p>plaque psoriasis</p>", labels[0].Indications)
	})

	t.Run("native object", func(t *testing.T) {
		labels, err := ParseLabels([]byte(`{"id": "x", "drugName": "X"}`))
		require.NoError(t, err)
		require.Len(t, labels, 1)
	})

	t.Run("openFDA results", func(t *testing.T) {
		labels, err := ParseLabels([]byte(`{"results": [{
			"set_id": "set-1",
			"effective_time": "20240115",
			"indications_and_usage": ["1 INDICATIONS AND USAGE", "Taltz is indicated for plaque psoriasis."],
			"warnings": ["Infections."],
			"openfda": {"brand_name": ["Taltz"], "generic_name": ["IXEKIZUMAB"], "manufacturer_name": ["Eli Lilly"]}
		}]}`))
		require.NoError(t, err)
		require.Len(t, labels, 1)

		l := labels[0]
		assert.Equal(t, "set-1", l.ID)
		assert.Equal(t, "Taltz", l.DrugName)
		assert.Equal(t, "ixekizumab", l.GenericName)
		assert.Equal(t, "Eli Lilly", l.Manufacturer)
		assert.Contains(t, l.Indications, "plaque psoriasis")
		assert.Equal(t, "Infections.", l.Warnings)
		assert.Equal(t, 2024, l.UpdatedAt.Year())
	})

	t.Run("openFDA results without openfda block", func(t *testing.T) {
		labels, err := ParseOpenFDALabels([]json.RawMessage{
			json.RawMessage(`{"id": "doc-9", "description": ["Sterile solution."]}`),
			json.RawMessage(`{"indications_and_usage": ["no identifiers"]}`),
		})
		require.NoError(t, err)
		require.Len(t, labels, 1)
		assert.Equal(t, "doc-9", labels[0].ID)
		assert.Equal(t, "Sterile solution.", labels[0].Description)

		_, err = ParseOpenFDALabels([]json.RawMessage{json.RawMessage(`[1]`)})
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseLabels([]byte(`   `))
		require.ErrorIs(t, err, ErrUnrecognizedLabelFile)

		_, err = ParseLabels([]byte(`{"foo": 1}`))
		require.ErrorIs(t, err, ErrUnrecognizedLabelFile)
	})
}

func TestMemoryLabelsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLabelsRepository(
		models.Label{ID: "taltz", DrugName: "Taltz", GenericName: "ixekizumab", Indications: "<b>plaque</b> psoriasis"},
		models.Label{ID: "lisinopril", DrugName: "Zestril", Indications: "hypertension"},
		models.Label{ID: "otezla", DrugName: "Otezla", Indications: "psoriatic arthritis and plaque psoriasis"},
	)

	t.Run("get by id", func(t *testing.T) {
		l, err := repo.GetByID(ctx, "taltz")
		require.NoError(t, err)
		assert.Equal(t, "Taltz", l.DrugName)

		_, err = repo.GetByID(ctx, "missing")
		require.ErrorIs(t, err, huberrors.ErrNotFound)
	})

	t.Run("get by ids keeps order and skips missing", func(t *testing.T) {
		labels, err := repo.GetByIDs(ctx, []string{"otezla", "missing", "taltz"})
		require.NoError(t, err)
		require.Len(t, labels, 2)
		assert.Equal(t, "otezla", labels[0].ID)
		assert.Equal(t, "taltz", labels[1].ID)
	})

	t.Run("keyword search ranks by matched terms", func(t *testing.T) {
		labels, err := repo.KeywordSearch(ctx, []string{"psoriasis", "arthritis"}, 10)
		require.NoError(t, err)
		require.Len(t, labels, 2)
		assert.Equal(t, "otezla", labels[0].ID)
		assert.Equal(t, "taltz", labels[1].ID)
	})

	t.Run("keyword search ignores markup", func(t *testing.T) {
		labels, err := repo.KeywordSearch(ctx, []string{"plaque psoriasis"}, 10)
		require.NoError(t, err)
		assert.Len(t, labels, 2)
	})

	t.Run("list ids pages", func(t *testing.T) {
		ids, err := repo.ListIDs(ctx, "", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"lisinopril", "otezla"}, ids)

		ids, err = repo.ListIDs(ctx, "otezla", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"taltz"}, ids)
	})
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_x`, escapeLike("50% off_x"))
}
