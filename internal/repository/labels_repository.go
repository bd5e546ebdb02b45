package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/pkg/labeltext"
)

const (
	labelsStoreName = "labels"
	labelColumns    = `id, drug_name, generic_name, manufacturer, indications, dosage,
		contraindications, warnings, adverse_reactions, description, updated_at`
	// keywordOverfetch widens the SQL candidate set so ranking by matched terms has room to reorder.
	keywordOverfetch = 4
)

// LabelsRepository reads drug labels from the labels table.
type LabelsRepository struct {
	db *pgxpool.Pool
}

// NewLabelsRepository creates a new labels repository.
func NewLabelsRepository(db *pgxpool.Pool) *LabelsRepository {
	return &LabelsRepository{db: db}
}

func scanLabel(row pgx.Row) (models.Label, error) {
	var l models.Label

	err := row.Scan(&l.ID, &l.DrugName, &l.GenericName, &l.Manufacturer, &l.Indications, &l.Dosage,
		&l.Contraindications, &l.Warnings, &l.AdverseReactions, &l.Description, &l.UpdatedAt)
	if err != nil {
		return models.Label{}, err
	}

	l.Normalize()

	return l, nil
}

// GetByID returns one label. Returns huberrors.ErrNotFound when it does not exist.
func (r *LabelsRepository) GetByID(ctx context.Context, id string) (models.Label, error) {
	row := r.db.QueryRow(ctx, `SELECT `+labelColumns+` FROM labels WHERE id = $1`, id)

	label, err := scanLabel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Label{}, huberrors.NewNotFoundError("label", "label not found: "+id)
		}

		return models.Label{}, fmt.Errorf("get label: %w", wrapStoreError(labelsStoreName, err))
	}

	return label, nil
}

// GetByIDs returns the labels that exist, in the order of ids. Missing ids are skipped.
func (r *LabelsRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Label, error) {
	if len(ids) == 0 {
		return []models.Label{}, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+labelColumns+` FROM labels WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get labels: %w", wrapStoreError(labelsStoreName, err))
	}
	defer rows.Close()

	byID := make(map[string]models.Label, len(ids))

	for rows.Next() {
		label, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}

		byID[label.ID] = label
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating labels: %w", wrapStoreError(labelsStoreName, err))
	}

	return orderLabels(ids, byID), nil
}

// KeywordSearch returns labels whose name or body fields contain any of terms (case-insensitive),
// ranked by how many distinct terms matched.
func (r *LabelsRepository) KeywordSearch(ctx context.Context, terms []string, limit int) ([]models.Label, error) {
	if len(terms) == 0 || limit <= 0 {
		return []models.Label{}, nil
	}

	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + escapeLike(t) + "%"
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+labelColumns+` FROM labels
		WHERE concat_ws(' ', drug_name, generic_name, indications, dosage, contraindications,
			warnings, adverse_reactions, description) ILIKE ANY($1)
		ORDER BY id
		LIMIT $2`, patterns, limit*keywordOverfetch)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", wrapStoreError(labelsStoreName, err))
	}
	defer rows.Close()

	var candidates []models.Label

	for rows.Next() {
		label, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}

		candidates = append(candidates, label)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keyword matches: %w", wrapStoreError(labelsStoreName, err))
	}

	return rankByTerms(candidates, terms, limit), nil
}

// ListIDs pages through label ids in ascending order, starting after afterID.
func (r *LabelsRepository) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM labels WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list label ids: %w", wrapStoreError(labelsStoreName, err))
	}
	defer rows.Close()

	ids := []string{}

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan label id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating label ids: %w", err)
	}

	return ids, nil
}

// Upsert writes a label. Used by imports and tests; the service itself only reads labels.
func (r *LabelsRepository) Upsert(ctx context.Context, label models.Label) error {
	label.Normalize()

	_, err := r.db.Exec(ctx, `
		INSERT INTO labels (`+labelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			drug_name = EXCLUDED.drug_name, generic_name = EXCLUDED.generic_name,
			manufacturer = EXCLUDED.manufacturer, indications = EXCLUDED.indications,
			dosage = EXCLUDED.dosage, contraindications = EXCLUDED.contraindications,
			warnings = EXCLUDED.warnings, adverse_reactions = EXCLUDED.adverse_reactions,
			description = EXCLUDED.description, updated_at = now()`,
		label.ID, label.DrugName, label.GenericName, label.Manufacturer, label.Indications, label.Dosage,
		label.Contraindications, label.Warnings, label.AdverseReactions, label.Description,
	)
	if err != nil {
		return fmt.Errorf("label upsert: %w", wrapStoreError(labelsStoreName, err))
	}

	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func orderLabels(ids []string, byID map[string]models.Label) []models.Label {
	out := make([]models.Label, 0, len(byID))

	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
			delete(byID, id)
		}
	}

	return out
}

// labelSearchText is the lowercase plain text keyword search matches against.
func labelSearchText(l models.Label) string {
	parts := []string{l.DrugName, l.GenericName}
	for _, s := range l.Sections() {
		parts = append(parts, s.Text)
	}

	return strings.ToLower(labeltext.Clean(strings.Join(parts, " ")))
}

func countMatchedTerms(text string, terms []string) int {
	n := 0

	for _, t := range terms {
		if strings.Contains(text, strings.ToLower(t)) {
			n++
		}
	}

	return n
}

// rankByTerms orders labels by matched term count (desc), then id, and keeps the top limit.
// Labels matching no term after HTML stripping are dropped.
func rankByTerms(labels []models.Label, terms []string, limit int) []models.Label {
	type scored struct {
		label models.Label
		score int
	}

	ranked := make([]scored, 0, len(labels))

	for _, l := range labels {
		if n := countMatchedTerms(labelSearchText(l), terms); n > 0 {
			ranked = append(ranked, scored{label: l, score: n})
		}
	}

	slices.SortStableFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}

		return cmp.Compare(a.label.ID, b.label.ID)
	})

	out := make([]models.Label, 0, min(limit, len(ranked)))
	for i := 0; i < len(ranked) && i < limit; i++ {
		out = append(out, ranked[i].label)
	}

	return out
}
